package isolation_test

import (
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vianexus/agentmemory/internal/memory"
	"github.com/vianexus/agentmemory/pkg/types"
)

func appendUser(sessionID, content string) {
	_, err := mgr.Append(ctx, sessionID, types.Message{
		Role:     types.RoleUser,
		Content:  content,
		Sequence: types.SequenceAuto,
	})
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("Session Isolation", func() {
	Describe("Concurrent sessions", func() {
		It("should keep concurrent writers on separate sessions fully isolated", func() {
			const sessions = 8
			const messagesPerSession = 20

			ids := make([]string, sessions)
			for i := range ids {
				id, err := mgr.Create(ctx, fmt.Sprintf("user%d", i), "anthropic", "", nil, nil)
				Expect(err).NotTo(HaveOccurred())
				ids[i] = id
			}

			var wg sync.WaitGroup
			for i, id := range ids {
				wg.Add(1)
				go func(i int, id string) {
					defer GinkgoRecover()
					defer wg.Done()
					for j := 0; j < messagesPerSession; j++ {
						appendUser(id, fmt.Sprintf("session %d message %d", i, j))
					}
				}(i, id)
			}
			wg.Wait()

			for i, id := range ids {
				rec, err := mgr.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.Messages).To(HaveLen(messagesPerSession))
				for j, msg := range rec.Messages {
					Expect(msg.Sequence).To(Equal(j))
					Expect(msg.SessionID).To(Equal(id))
					Expect(msg.Content).To(Equal(fmt.Sprintf("session %d message %d", i, j)))
				}
			}
		})

		It("should assign a gapless sequence under concurrent appends to one session", func() {
			id, err := mgr.Create(ctx, "contention", "anthropic", "", nil, nil)
			Expect(err).NotTo(HaveOccurred())

			const writers = 24
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					appendUser(id, fmt.Sprintf("writer %d", i))
				}(i)
			}
			wg.Wait()

			rec, err := mgr.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Messages).To(HaveLen(writers))
			for j, msg := range rec.Messages {
				Expect(msg.Sequence).To(Equal(j))
			}
		})
	})

	Describe("Clone lineage", func() {
		It("should let a clone and its parent diverge under concurrent appends", func() {
			parentID, err := mgr.Create(ctx, "forker", "anthropic", "baseline", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			appendUser(parentID, "shared prefix one")
			appendUser(parentID, "shared prefix two")

			cloneID, err := mgr.Clone(ctx, parentID, "whatif")
			Expect(err).NotTo(HaveOccurred())

			const rounds = 15
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					appendUser(parentID, fmt.Sprintf("parent %d", i))
				}
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					appendUser(cloneID, fmt.Sprintf("clone %d", i))
				}
			}()
			wg.Wait()

			parent, err := mgr.Get(ctx, parentID)
			Expect(err).NotTo(HaveOccurred())
			clone, err := mgr.Get(ctx, cloneID)
			Expect(err).NotTo(HaveOccurred())

			Expect(parent.Messages).To(HaveLen(2 + rounds))
			Expect(clone.Messages).To(HaveLen(2 + rounds))
			Expect(clone.Metadata[types.MetaParentSession]).To(Equal(parentID))

			// The shared prefix is intact on both sides, and no message
			// from one lineage leaked into the other.
			for i := 0; i < 2; i++ {
				Expect(clone.Messages[i].Content).To(Equal(parent.Messages[i].Content))
			}
			for _, msg := range parent.Messages[2:] {
				Expect(msg.Content).To(HavePrefix("parent "))
			}
			for _, msg := range clone.Messages[2:] {
				Expect(msg.Content).To(HavePrefix("clone "))
			}
		})

		It("should produce independent clones from concurrent clone calls", func() {
			parentID, err := mgr.Create(ctx, "forker", "anthropic", "race", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			appendUser(parentID, "origin")

			const cloners = 6
			cloneIDs := make([]string, cloners)
			var wg sync.WaitGroup
			for i := 0; i < cloners; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					id, err := mgr.Clone(ctx, parentID, fmt.Sprintf("branch%d", i))
					Expect(err).NotTo(HaveOccurred())
					cloneIDs[i] = id
				}(i)
			}
			wg.Wait()

			seen := make(map[string]bool)
			for _, id := range cloneIDs {
				Expect(seen[id]).To(BeFalse(), "clone IDs must be unique")
				seen[id] = true

				rec, err := mgr.Get(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.Messages).To(HaveLen(1))
				Expect(rec.Messages[0].Content).To(Equal("origin"))
			}
		})
	})

	Describe("Facade boundaries", func() {
		It("should stop one user's facade from binding another user's session", func() {
			owner, err := memory.New(ctx, mgr, "owner", "anthropic", memory.Options{})
			Expect(err).NotTo(HaveOccurred())
			_, err = owner.Append(ctx, types.RoleUser, "private")
			Expect(err).NotTo(HaveOccurred())

			_, err = memory.New(ctx, mgr, "intruder", "anthropic", memory.Options{
				SessionID: owner.SessionID(),
			})
			Expect(err).To(MatchError(memory.ErrUserMismatch))
		})

		It("should resume a session from a different client type for the same user", func() {
			first, err := memory.New(ctx, mgr, "roamer", "anthropic", memory.Options{})
			Expect(err).NotTo(HaveOccurred())
			_, err = first.Append(ctx, types.RoleUser, "started on anthropic")
			Expect(err).NotTo(HaveOccurred())

			second, err := memory.New(ctx, mgr, "roamer", "openai", memory.Options{
				SessionID: first.SessionID(),
			})
			Expect(err).NotTo(HaveOccurred())

			history, err := second.History(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
			Expect(history[0].Content).To(Equal("started on anthropic"))
		})
	})

	Describe("Deletion", func() {
		It("should not disturb other sessions when one is deleted mid-write", func() {
			victimID, err := mgr.Create(ctx, "deleter", "anthropic", "", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			survivorID, err := mgr.Create(ctx, "deleter", "anthropic", "keep", nil, nil)
			Expect(err).NotTo(HaveOccurred())

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for i := 0; i < 10; i++ {
					appendUser(survivorID, fmt.Sprintf("survivor %d", i))
				}
			}()
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(mgr.Delete(ctx, victimID)).To(Succeed())
			}()
			wg.Wait()

			rec, err := mgr.Get(ctx, survivorID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Messages).To(HaveLen(10))
		})
	})
})
