package typeregistry

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestTypeRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Type Registry Suite")
}

var _ = Describe("Cast", func() {
	Context("string", func() {
		It("stringifies any value", func() {
			v, err := Cast(42, "string")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.String()).To(Equal("42"))
		})
	})

	Context("integer", func() {
		It("parses a numeric string", func() {
			v, err := Cast("42", "integer")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Float64()).To(Equal(42.0))
		})

		It("rejects a fractional string", func() {
			_, err := Cast("4.2", "integer")
			Expect(err).To(HaveOccurred())
		})

		It("rejects NaN-like input", func() {
			_, err := Cast("not-a-number", "integer")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("float", func() {
		It("parses a float string", func() {
			v, err := Cast("3.14", "float")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Float64()).To(BeNumerically("~", 3.14, 0.0001))
		})

		It("rejects non-numeric input", func() {
			_, err := Cast("abc", "float")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("boolean", func() {
		It("passes native booleans through unchanged", func() {
			v, err := Cast(true, "boolean")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.BoolVal()).To(BeTrue())
		})

		DescribeTable("truthy strings",
			func(input string, want bool) {
				v, err := Cast(input, "boolean")
				Expect(err).NotTo(HaveOccurred())
				Expect(v.BoolVal()).To(Equal(want))
			},
			Entry("1", "1", true),
			Entry("true", "true", true),
			Entry("YES", "YES", true),
			Entry("on", " on ", true),
			Entry("no", "no", false),
			Entry("garbage", "garbage", false),
		)
	})

	Context("datetime", func() {
		It("passes an already-typed timestamp through unchanged", func() {
			now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			v, err := Cast(now, "datetime")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.TimeVal()).To(Equal(now))
		})

		It("parses an ISO-8601 string with a trailing Z as UTC", func() {
			v, err := Cast("2024-01-02T03:04:05Z", "datetime")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.TimeVal().UTC()).To(Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
		})

		It("rejects malformed input", func() {
			_, err := Cast("not-a-date", "datetime")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("unknown type name", func() {
		It("falls back to string", func() {
			v, err := Cast(7, "currency")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Kind().String()).To(Equal("string"))
		})
	})
})

var _ = Describe("CastRequestParams", func() {
	snapshot := map[string]string{"region": "string", "score": "integer"}

	It("casts each condition's value and uppercases the operator", func() {
		raw := map[string]interface{}{
			"region": map[string]interface{}{"value": "NW", "operator": "eq", "height": 2.0},
		}

		conditions, err := CastRequestParams(raw, snapshot)
		Expect(err).NotTo(HaveOccurred())
		Expect(conditions["region"].Operator).To(BeEquivalentTo("EQ"))
		Expect(conditions["region"].Value.String()).To(Equal("NW"))
		Expect(conditions["region"].Height).To(Equal(2.0))
	})

	It("defaults height to 1.0 when absent or null", func() {
		raw := map[string]interface{}{
			"region": map[string]interface{}{"value": "NW", "operator": "EQ"},
		}

		conditions, err := CastRequestParams(raw, snapshot)
		Expect(err).NotTo(HaveOccurred())
		Expect(conditions["region"].Height).To(Equal(1.0))
	})

	It("rejects an unknown operator", func() {
		raw := map[string]interface{}{
			"region": map[string]interface{}{"value": "NW", "operator": "REGEX"},
		}

		_, err := CastRequestParams(raw, snapshot)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a condition that isn't an object", func() {
		raw := map[string]interface{}{
			"region": "NW",
		}

		_, err := CastRequestParams(raw, snapshot)
		Expect(err).To(HaveOccurred())
	})

	It("defaults unknown keys to string", func() {
		raw := map[string]interface{}{
			"unregistered": map[string]interface{}{"value": 5, "operator": "EQ"},
		}

		conditions, err := CastRequestParams(raw, snapshot)
		Expect(err).NotTo(HaveOccurred())
		Expect(conditions["unregistered"].Value.Kind().String()).To(Equal("string"))
	})
})
