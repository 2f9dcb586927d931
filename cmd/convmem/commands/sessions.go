package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vianexus/agentmemory/pkg/types"
)

var (
	createUser     string
	createClient   string
	createContext  string
	createTags     []string
	appendRole     string
	cloneContext   string
	branchAt       int
	showMax        int
	searchLimit    int
	searchSessions []string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		id, err := mgr.Create(cmd.Context(), createUser, createClient, createContext, createTags, nil)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "List a user's sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		ids, err := mgr.ListSessions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session's history as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		rec, err := mgr.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if showMax > 0 && len(rec.Messages) > showMax {
			rec.Messages = rec.Messages[len(rec.Messages)-showMax:]
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

var appendCmd = &cobra.Command{
	Use:   "append <session-id> <content>",
	Short: "Append one message to a session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		msg, err := mgr.Append(cmd.Context(), args[0], types.Message{
			Role:     types.Role(appendRole),
			Content:  args[1],
			Sequence: types.SequenceAuto,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s #%d\n", msg.ID, msg.Sequence)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <session-id>",
	Short: "Print session statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		stats, err := mgr.Stats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("messages:  %d\n", stats.MessageCount)
		fmt.Printf("created:   %s\n", time.UnixMilli(stats.Created).Format(time.RFC3339))
		fmt.Printf("accessed:  %s\n", time.UnixMilli(stats.Accessed).Format(time.RFC3339))
		fmt.Printf("size:      %d bytes\n", stats.SizeEstimate)
		return nil
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <session-id>",
	Short: "Clone a session's full history under a new identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		id, err := mgr.Clone(cmd.Context(), args[0], cloneContext)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch <session-id>",
	Short: "Branch a session at a historical message index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		id, err := mgr.Branch(cmd.Context(), args[0], branchAt)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <user-id> <query>",
	Short: "Search a user's messages for a substring",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		msgs, err := mgr.Search(cmd.Context(), args[0], args[1], searchSessions, searchLimit)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			fmt.Printf("%s #%d [%s] %s\n", msg.SessionID, msg.Sequence, msg.Role, msg.Content)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session from cache and backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := newManager(cmd.Context())
		if err != nil {
			return err
		}
		return mgr.Delete(cmd.Context(), args[0])
	},
}

func init() {
	createCmd.Flags().StringVar(&createUser, "user", "", "User ID (required)")
	createCmd.Flags().StringVar(&createClient, "client", "", "Client type, e.g. anthropic (required)")
	createCmd.Flags().StringVar(&createContext, "context", "", "Optional context label")
	createCmd.Flags().StringSliceVar(&createTags, "tag", nil, "Tags (repeatable)")
	createCmd.MarkFlagRequired("user")
	createCmd.MarkFlagRequired("client")

	showCmd.Flags().IntVar(&showMax, "max", 0, "Only the most recent N messages")
	appendCmd.Flags().StringVar(&appendRole, "role", "user", "Message role (user|assistant|system|tool)")
	cloneCmd.Flags().StringVar(&cloneContext, "context", "", "Context label for the clone")
	branchCmd.Flags().IntVar(&branchAt, "at", 0, "Branch point (number of messages to keep)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "Maximum number of matches")
	searchCmd.Flags().StringSliceVar(&searchSessions, "session", nil, "Restrict to session IDs (repeatable)")
}
