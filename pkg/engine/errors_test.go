package engine

import (
	"emperror.dev/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BusinessError", func() {
	It("matches by code, even through wrapping", func() {
		wrapped := errors.Wrap(ErrNoAccess, "confirm")

		Expect(errors.Is(wrapped, ErrNoAccess)).To(BeTrue())
		Expect(errors.Is(wrapped, ErrTransferNotFound)).To(BeFalse())
	})

	It("matches specialized invalid-request errors against the canonical one", func() {
		err := invalidRequest("declared size %d exceeds the resource limit %d", 10, 5)

		Expect(errors.Is(err, ErrInvalidRequest)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("exceeds the resource limit"))
	})

	It("separates business conditions from faults", func() {
		Expect(IsBusiness(ErrChecksumMismatch)).To(BeTrue())
		Expect(IsBusiness(errors.Wrap(ErrNotPublished, "outer"))).To(BeTrue())
		Expect(IsBusiness(errors.New("disk on fire"))).To(BeFalse())
	})
})
