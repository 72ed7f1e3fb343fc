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

package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"emperror.dev/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/relaypoint/filebroker/pkg/models"
	"gorm.io/gorm"
)

var _ = Describe("transferstore", func() {
	var (
		db  *gorm.DB
		sut TransferStore
		ctx = context.Background()
	)

	newTransfer := func(id string) *models.FileTransfer {
		return &models.FileTransfer{
			TransferID:      id,
			ResourceID:      "resource-a",
			Sender:          "svc-sender",
			FileName:        "report.tar.gz",
			ExpiresAt:       time.Now().Add(24 * time.Hour),
			StorageKey:      "key-" + id,
			StorageProvider: "default",
			Recipients: []models.TransferRecipient{
				{TransferID: id, Actor: "svc-a"},
				{TransferID: id, Actor: "svc-b"},
			},
			Properties: []models.TransferProperty{
				{TransferID: id, Key: "env", Value: "prod"},
			},
		}
	}

	BeforeEach(func() {
		os.Remove("transferstore.gorm.db")
		config := Config{Path: "transferstore.gorm.db", Log: testLogger()}

		var err error
		db, err = config.Open()
		Expect(err).To(Succeed())

		sut = NewTransferStore(db, testLogger())
	})

	AfterEach(func() {
		Expect(Close(db)).To(Succeed())
		os.Remove("transferstore.gorm.db")
	})

	It("creates and fetches a transfer with its associations", func() {
		Expect(sut.Create(ctx, nil, newTransfer("t-1"))).To(Succeed())

		transfer, err := sut.Get(ctx, "t-1")
		Expect(err).To(Succeed())
		Expect(transfer.Sender).To(Equal("svc-sender"))
		Expect(transfer.RecipientNames()).To(ConsistOf("svc-a", "svc-b"))
		Expect(transfer.Properties).To(HaveLen(1))
		Expect(transfer.IsRecipient("svc-a")).To(BeTrue())
		Expect(transfer.IsRecipient("svc-sender")).To(BeFalse())
	})

	It("rejects a duplicate transfer id", func() {
		Expect(sut.Create(ctx, nil, newTransfer("t-1"))).To(Succeed())

		err := sut.Create(ctx, nil, newTransfer("t-1"))
		Expect(errors.Is(err, ErrDuplicate)).To(BeTrue())
	})

	It("returns ErrNotFound for an unknown transfer", func() {
		_, err := sut.Get(ctx, "missing")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	Context("SetChecksum", func() {
		BeforeEach(func() {
			Expect(sut.Create(ctx, nil, newTransfer("t-1"))).To(Succeed())
		})

		It("sets the checksum at most once", func() {
			Expect(sut.SetChecksum(ctx, nil, "t-1", "aaaa")).To(Succeed())
			Expect(sut.SetChecksum(ctx, nil, "t-1", "bbbb")).To(Succeed())

			transfer, err := sut.Get(ctx, "t-1")
			Expect(err).To(Succeed())
			Expect(transfer.Checksum).To(Equal("aaaa"))
		})
	})

	Context("updates", func() {
		BeforeEach(func() {
			Expect(sut.Create(ctx, nil, newTransfer("t-1"))).To(Succeed())
		})

		It("persists storage details, job reference and expiry", func() {
			at := time.Now().Add(48 * time.Hour).Truncate(time.Second)

			Expect(sut.SetStorageDetails(ctx, nil, "t-1", "new-key", 1024)).To(Succeed())
			Expect(sut.SetJobID(ctx, nil, "t-1", "job-9")).To(Succeed())
			Expect(sut.SetExpiresAt(ctx, nil, "t-1", at)).To(Succeed())

			transfer, err := sut.Get(ctx, "t-1")
			Expect(err).To(Succeed())
			Expect(transfer.StorageKey).To(Equal("new-key"))
			Expect(transfer.Size).To(Equal(int64(1024)))
			Expect(transfer.JobID).To(Equal("job-9"))
			Expect(transfer.ExpiresAt).To(BeTemporally("~", at, time.Second))
		})

		It("reports ErrNotFound when no row matches", func() {
			err := sut.SetJobID(ctx, nil, "missing", "job-9")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Context("ListNonPurgedByProvider", func() {
		var statuses StatusStore

		BeforeEach(func() {
			statuses = NewStatusStore(db, testLogger())

			for i := 0; i < 5; i++ {
				Expect(sut.Create(ctx, nil, newTransfer(fmt.Sprintf("t-%d", i)))).To(Succeed())
			}
			Expect(statuses.Append(ctx, nil, "t-0", models.StatusPurged, "", time.Time{})).To(Succeed())
			Expect(statuses.Append(ctx, nil, "t-1", models.StatusCancelled, "", time.Time{})).To(Succeed())
		})

		It("skips purged and cancelled transfers", func() {
			transfers, err := sut.ListNonPurgedByProvider(ctx, "default")
			Expect(err).To(Succeed())
			Expect(transfers).To(HaveLen(3))
			for _, transfer := range transfers {
				Expect(transfer.TransferID).ToNot(BeElementOf("t-0", "t-1"))
			}
		})

		It("paginates", func() {
			transfers, err := sut.ListNonPurgedByProvider(ctx, "default", Paginate(1, 2))
			Expect(err).To(Succeed())
			Expect(transfers).To(HaveLen(2))

			transfers, err = sut.ListNonPurgedByProvider(ctx, "default", Paginate(2, 2))
			Expect(err).To(Succeed())
			Expect(transfers).To(HaveLen(1))
		})

		It("filters by provider", func() {
			transfers, err := sut.ListNonPurgedByProvider(ctx, "other")
			Expect(err).To(Succeed())
			Expect(transfers).To(BeEmpty())
		})
	})
})
