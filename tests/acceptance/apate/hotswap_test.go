package apate_test

import (
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const hotSwapInitialSpec = `{
  "deceit": [
    {"uris": ["/a"], "responses": [{"code": 200, "type": "string", "output": "a"}]}
  ]
}`

const hotSwapReplacementSpec = `{
  "deceit": [
    {"uris": ["/b"], "responses": [{"code": 200, "type": "string", "output": "b"}]}
  ]
}`

var _ = Describe("Hot-swap", func() {
	var te *TestEnvironment

	BeforeEach(func() {
		var err error
		te, err = NewTestEnvironment(hotSwapInitialSpec)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		te.Stop()
	})

	It("serves the new document after a replace and never a mixture", func() {
		resp, err := te.HTTPClient.Get(te.BaseURL + "/a")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(resp)).To(Equal("a"))

		replaceResp, err := te.HTTPClient.Post(te.AdminURL+"/specs/replace", "application/json", strings.NewReader(hotSwapReplacementSpec))
		Expect(err).NotTo(HaveOccurred())
		Expect(replaceResp.StatusCode).To(Equal(http.StatusOK))
		readAll(replaceResp)

		aResp, err := te.HTTPClient.Get(te.BaseURL + "/a")
		Expect(err).NotTo(HaveOccurred())
		Expect(aResp.StatusCode).To(Equal(http.StatusNotFound))

		bResp, err := te.HTTPClient.Get(te.BaseURL + "/b")
		Expect(err).NotTo(HaveOccurred())
		Expect(bResp.StatusCode).To(Equal(http.StatusOK))
		Expect(readAll(bResp)).To(Equal("b"))
	})
})
