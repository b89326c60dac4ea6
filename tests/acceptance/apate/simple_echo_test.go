package apate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const simpleEchoSpec = `{
  "deceit": [
    {
      "uris": ["/user/check"],
      "matchers": [{"type": "method", "eq": "POST"}],
      "responses": [
        {
          "code": 200,
          "headers": [["Content-Type", "application/json"]],
          "type": "string",
          "output": "{\"message\":\"Success\"}"
        }
      ]
    }
  ]
}`

var _ = Describe("Simple echo", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(simpleEchoSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("returns the configured body for a matching POST", func() {
		req, err := http.NewRequest(http.MethodPost, te.BaseURL+"/user/check", nil)
		Expect(err).NotTo(HaveOccurred())
		sentID := newRequestID()
		req.Header.Set("X-Request-ID", sentID)

		resp, err := te.HTTPClient.Do(req)
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
		Expect(resp.Header.Get("X-Request-ID")).To(ContainSubstring(sentID[:20]))

		body := readAll(resp)
		Expect(body).To(Equal(`{"message":"Success"}`))
	})

	It("404s a GET against the same path since the method matcher fails", func() {
		resp, err := te.HTTPClient.Get(te.BaseURL + "/user/check")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})
})
