package apate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const scriptMatcherSpec = `{
  "deceit": [
    {
      "uris": ["/matcher"],
      "responses": [
        {
          "code": 200,
          "matchers": [{"type": "rhai", "script": "ctx.load_query_args().library === 'Apate'"}],
          "type": "string",
          "output": "matched"
        }
      ]
    }
  ]
}`

var _ = Describe("Script matcher", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(scriptMatcherSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("404s when the script predicate evaluates false", func() {
		resp, err := te.HTTPClient.Post(te.BaseURL+"/matcher?library=Postman", "text/plain", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("200s when the script predicate evaluates true", func() {
		resp, err := te.HTTPClient.Post(te.BaseURL+"/matcher?library=Apate", "text/plain", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp)).To(Equal("matched"))
	})
})
