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
	"io"
	"strings"

	"emperror.dev/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/relaypoint/filebroker/pkg/models"
)

var _ = Describe("Download", func() {
	var (
		f   *fixture
		ctx = context.Background()

		transferID string
	)

	content := "transfer payload"

	BeforeEach(func() {
		f = newFixture("download.gorm.db")
		f.seedDefaults()

		var err error
		transferID, err = f.sut.Initialize(ctx, InitializeRequest{
			ResourceID: "resource-a",
			Sender:     "svc-sender",
			Recipients: []string{"svc-a", "svc-b"},
			Caller:     "svc-sender",
		})
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		f.close()
	})

	publish := func() {
		Expect(f.sut.Upload(ctx, transferID, strings.NewReader(content), int64(len(content)), "svc-sender")).To(Succeed())
	}

	It("rejects a download before the upload", func() {
		_, err := f.sut.Download(ctx, transferID, "svc-a")
		Expect(errors.Is(err, ErrNotYetUploaded)).To(BeTrue())
	})

	It("rejects a caller that is neither recipient nor sender", func() {
		publish()

		_, err := f.sut.Download(ctx, transferID, "svc-other")
		Expect(errors.Is(err, ErrNoAccess)).To(BeTrue())
	})

	It("streams the content to a recipient and records the download start", func() {
		publish()

		rc, err := f.sut.Download(ctx, transferID, "svc-a")
		Expect(err).To(Succeed())
		defer rc.Close()

		got, err := io.ReadAll(rc)
		Expect(err).To(Succeed())
		Expect(string(got)).To(Equal(content))

		actor, err := f.statuses.CurrentActor(ctx, transferID, "svc-a")
		Expect(err).To(Succeed())
		Expect(actor.Status).To(Equal(models.ActorDownloadStarted))
	})

	It("does not move a confirmed recipient backward", func() {
		publish()
		Expect(f.sut.ConfirmDownload(ctx, transferID, "svc-a")).To(Succeed())

		rc, err := f.sut.Download(ctx, transferID, "svc-a")
		Expect(err).To(Succeed())
		rc.Close()

		actor, err := f.statuses.CurrentActor(ctx, transferID, "svc-a")
		Expect(err).To(Succeed())
		Expect(actor.Status).To(Equal(models.ActorDownloadConfirmed))
	})

	It("lets the sender download without touching the actor log", func() {
		publish()

		rc, err := f.sut.Download(ctx, transferID, "svc-sender")
		Expect(err).To(Succeed())
		rc.Close()

		_, err = f.statuses.CurrentActor(ctx, transferID, "svc-sender")
		Expect(err).To(HaveOccurred())
	})

	It("reports a purged transfer as unavailable", func() {
		publish()
		Expect(f.sut.ExpireOrPurge(ctx, transferID, true, ReasonExpired)).To(Succeed())

		_, err := f.sut.Download(ctx, transferID, "svc-a")
		Expect(errors.Is(err, ErrTransferNotAvailable)).To(BeTrue())
	})
})
