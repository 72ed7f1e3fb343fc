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

package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"emperror.dev/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/relaypoint/filebroker/pkg/database"
	"gorm.io/gorm"
)

var _ = Describe("blobstore", func() {
	var (
		db  *gorm.DB
		sut *BlobStore
		ctx = context.Background()
	)

	BeforeEach(func() {
		os.Remove("blobstore.gorm.db")
		config := database.Config{Path: "blobstore.gorm.db", Log: testLogger()}

		var err error
		db, err = config.Open()
		Expect(err).To(Succeed())

		sut = NewBlobStore(db, testLogger())
	})

	AfterEach(func() {
		Expect(database.Close(db)).To(Succeed())
		os.Remove("blobstore.gorm.db")
	})

	It("round-trips content and reports checksum and size", func() {
		content := "payload bytes"
		wantSum := sha256.Sum256([]byte(content))

		checksum, size, err := sut.Upload(ctx, "key-1", strings.NewReader(content))
		Expect(err).To(Succeed())
		Expect(size).To(Equal(int64(len(content))))
		Expect(checksum).To(Equal(hex.EncodeToString(wantSum[:])))

		rc, err := sut.Download(ctx, "key-1")
		Expect(err).To(Succeed())
		defer rc.Close()

		got, err := io.ReadAll(rc)
		Expect(err).To(Succeed())
		Expect(string(got)).To(Equal(content))
	})

	It("returns ErrNotFound for a missing object", func() {
		_, err := sut.Download(ctx, "missing")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("deletes idempotently", func() {
		_, _, err := sut.Upload(ctx, "key-1", strings.NewReader("x"))
		Expect(err).To(Succeed())

		Expect(sut.Delete(ctx, "key-1")).To(Succeed())
		Expect(sut.Delete(ctx, "key-1")).To(Succeed())

		_, err = sut.Download(ctx, "key-1")
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("marks scanning capability per constructor", func() {
		Expect(NewBlobStore(db, testLogger()).ScansContent()).To(BeFalse())
		Expect(NewScannedBlobStore(db, testLogger()).ScansContent()).To(BeTrue())
	})

	Describe("registry", func() {
		It("resolves providers by name", func() {
			registry := Registry{"default": sut}

			provider, err := registry.Get("default")
			Expect(err).To(Succeed())
			Expect(provider).To(Equal(sut))

			_, err = registry.Get("nope")
			Expect(errors.Is(err, ErrUnknownProvider)).To(BeTrue())
		})
	})
})
