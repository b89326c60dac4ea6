package apate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const overrideStatusSpec = `{
  "deceit": [
    {
      "uris": ["/created"],
      "responses": [
        {"type": "template", "output": "{{force_response_code 201}}done"}
      ]
    }
  ]
}`

var _ = Describe("Override status from template", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(overrideStatusSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("honors the template's override over the 200 fallback", func() {
		resp, err := te.HTTPClient.Get(te.BaseURL + "/created")
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(readAll(resp)).To(Equal("done"))
	})
})
