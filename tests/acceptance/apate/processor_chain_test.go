package apate_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const processorChainSpec = `{
  "deceit": [
    {
      "uris": ["/echo"],
      "responses": [
        {
          "code": 200,
          "type": "string",
          "output": "simple",
          "processors": [
            {"type": "script", "source": "ctx.inc_counter('calls'); undefined"},
            {"type": "embedded", "id": "append", "args": ["_TAIL"]}
          ]
        }
      ]
    },
    {
      "uris": ["/calls"],
      "responses": [
        {"code": 200, "type": "script", "output": "ctx.inc_counter('calls').toString()"}
      ]
    }
  ]
}`

var _ = Describe("Processor chain mutates body", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(processorChainSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("runs the chain once per request and the counter advances accordingly", func() {
		resp1, err := te.HTTPClient.Get(te.BaseURL + "/echo")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp1.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp1)).To(Equal("simple_TAIL"))

		resp2, err := te.HTTPClient.Get(te.BaseURL + "/echo")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp2.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp2)).To(Equal("simple_TAIL"))

		callsResp, err := te.HTTPClient.Get(te.BaseURL + "/calls")
		Expect(err).NotTo(HaveOccurred())
		Expect(readAll(callsResp)).To(Equal("2"))
	})
})
