package apate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const codecSpec = `{
  "deceit": [
    {"uris": ["/hex"], "responses": [{"code": 200, "type": "hex", "output": "0x68656c6c6f"}]},
    {"uris": ["/b64"], "responses": [{"code": 200, "type": "base64", "output": "aGVsbG8="}]}
  ]
}`

var _ = Describe("Codec round-trip", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(codecSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("decodes hex output to the exact configured bytes", func() {
		resp, err := te.HTTPClient.Get(te.BaseURL + "/hex")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp)).To(Equal("hello"))
	})

	It("decodes base64 output to the exact configured bytes", func() {
		resp, err := te.HTTPClient.Get(te.BaseURL + "/b64")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp)).To(Equal("hello"))
	})
})
