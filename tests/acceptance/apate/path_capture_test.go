package apate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const pathCaptureSpec = `{
  "deceit": [
    {
      "uris": ["/user/{id}"],
      "responses": [
        {
          "headers": [["Content-Type", "application/json"]],
          "type": "template",
          "output": "{\"id\":\"{{ .Ctx.LoadPathArgs.id }}\",\"name\":\"Ignat\"}"
        }
      ]
    }
  ]
}`

var _ = Describe("Path capture via template", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(pathCaptureSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("substitutes the captured path segment into the template output", func() {
		resp, err := te.HTTPClient.Get(te.BaseURL + "/user/1133")
		Expect(err).NotTo(HaveOccurred())

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp)).To(Equal(`{"id":"1133","name":"Ignat"}`))
	})
})
