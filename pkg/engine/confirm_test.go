// Copyright 2021 IBM Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"strings"
	"time"

	"emperror.dev/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/relaypoint/filebroker/pkg/events"
	"github.com/relaypoint/filebroker/pkg/models"
)

var _ = Describe("ConfirmDownload", func() {
	var (
		f   *fixture
		ctx = context.Background()

		transferID string
	)

	content := "transfer payload"

	initialize := func(resourceID string) string {
		id, err := f.sut.Initialize(ctx, InitializeRequest{
			ResourceID: resourceID,
			Sender:     "svc-sender",
			Recipients: []string{"svc-a", "svc-b"},
			Caller:     "svc-sender",
		})
		Expect(err).To(Succeed())
		return id
	}

	publish := func(id string) {
		Expect(f.sut.Upload(ctx, id, strings.NewReader(content), int64(len(content)), "svc-sender")).To(Succeed())
		Expect(f.currentStatus(id)).To(Equal(models.StatusPublished))
		f.events.reset()
	}

	BeforeEach(func() {
		f = newFixture("confirm.gorm.db")
		f.seedDefaults()
		transferID = initialize("resource-a")
	})

	AfterEach(func() {
		f.close()
	})

	It("rejects a confirmation before the upload", func() {
		err := f.sut.ConfirmDownload(ctx, transferID, "svc-a")
		Expect(errors.Is(err, ErrNotYetUploaded)).To(BeTrue())
	})

	It("rejects a caller that is not a recipient", func() {
		publish(transferID)

		err := f.sut.ConfirmDownload(ctx, transferID, "svc-sender")
		Expect(errors.Is(err, ErrNoAccess)).To(BeTrue())
	})

	It("rejects an unknown transfer", func() {
		err := f.sut.ConfirmDownload(ctx, "missing", "svc-a")
		Expect(errors.Is(err, ErrTransferNotFound)).To(BeTrue())
	})

	Context("after publication", func() {
		BeforeEach(func() {
			publish(transferID)
		})

		It("records one confirmation without the aggregate transition", func() {
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())

			Expect(f.currentStatus(transferID)).To(Equal(models.StatusPublished))

			actors, err := f.statuses.CurrentActors(ctx, nil, transferID)
			Expect(err).To(Succeed())
			Expect(actors["svc-a"]).To(Equal(models.ActorDownloadConfirmed))
			Expect(actors["svc-b"]).To(Equal(models.ActorInitialized))

			Expect(f.events.subjectsOf(events.DownloadConfirmed)).To(ConsistOf("svc-a", "svc-sender"))
		})

		It("repeats a confirmation as a no-op", func() {
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())

			before, err := f.statuses.ActorHistory(ctx, transferID)
			Expect(err).To(Succeed())

			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())

			after, err := f.statuses.ActorHistory(ctx, transferID)
			Expect(err).To(Succeed())
			Expect(after).To(HaveLen(len(before)))
		})

		It("moves to AllConfirmedDownloaded exactly once when the last recipient confirms", func() {
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-b")).To(Succeed())

			Expect(f.currentStatus(transferID)).To(Equal(models.StatusAllConfirmedDownloaded))

			count := 0
			for _, row := range f.history(transferID) {
				if row.Status == models.StatusAllConfirmedDownloaded {
					count++
				}
			}
			Expect(count).To(Equal(1))

			Expect(f.events.countOf(events.AllConfirmedDownloaded)).To(Equal(1))
		})

		It("cancels the expiry job and schedules the delayed purge", func() {
			oldJobID := f.getTransfer(transferID).JobID

			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-b")).To(Succeed())

			Expect(f.job(oldJobID).State).To(Equal(models.JobCancelled))

			transfer := f.getTransfer(transferID)
			Expect(transfer.JobID).ToNot(Equal(oldJobID))

			purge := f.job(transfer.JobID)
			Expect(purge.Kind).To(Equal(JobKindExpire))
			Expect(purge.State).To(Equal(models.JobPending))
			Expect(purge.RunAt).To(BeTemporally(">", time.Now().Add(23*time.Hour)))
		})

		It("accepts a re-delivered confirmation after the aggregate transition", func() {
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-b")).To(Succeed())

			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())
		})
	})

	Context("with immediate purge configured", func() {
		BeforeEach(func() {
			f.seedResource(
				models.Resource{
					ResourceID:             "resource-fast",
					OrgID:                  "org-a",
					TTL:                    24 * time.Hour,
					PurgeAfterAllConfirmed: true,
					StorageProvider:        "default",
				},
				models.ServiceOwner{OrgID: "org-fast"},
			)
			transferID = initialize("resource-fast")
			publish(transferID)
		})

		It("purges as soon as every recipient confirmed", func() {
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())
			Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-b")).To(Succeed())

			transfer := f.getTransfer(transferID)
			Expect(f.job(transfer.JobID).RunAt).To(BeTemporally("~", time.Now(), 5*time.Second))

			ran, err := f.jobs.DispatchDue(ctx)
			Expect(err).To(Succeed())
			Expect(ran).To(Equal(1))

			Expect(f.currentStatus(transferID)).To(Equal(models.StatusPurged))
			Expect(f.blobCount()).To(Equal(int64(0)))
		})
	})

	Context("while content is scanned", func() {
		BeforeEach(func() {
			f.seedResource(
				models.Resource{
					ResourceID:      "resource-scanned",
					OrgID:           "org-a",
					TTL:             24 * time.Hour,
					StorageProvider: "scanned",
				},
				models.ServiceOwner{OrgID: "org-scanned"},
			)
			transferID = initialize("resource-scanned")
			Expect(f.sut.Upload(ctx, transferID, strings.NewReader(content), int64(len(content)), "svc-sender")).To(Succeed())
			Expect(f.currentStatus(transferID)).To(Equal(models.StatusUploadProcessing))
		})

		It("rejects a confirmation until publication", func() {
			err := f.sut.ConfirmDownload(ctx, transferID, "svc-a")
			Expect(errors.Is(err, ErrNotPublished)).To(BeTrue())
		})
	})
})
