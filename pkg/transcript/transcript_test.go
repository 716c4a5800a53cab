package transcript_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

var _ = Describe("Transcript", func() {
	var t transcript.Transcript

	BeforeEach(func() {
		t = transcript.Transcript{
			Preamble:  "SYS",
			Turns:     []llm.Turn{llm.UserTurn("hi"), llm.AssistantTurn("hello")},
			TurnIndex: 1,
		}
	})

	Describe("Render", func() {
		It("puts the preamble on the first line followed by one line per turn", func() {
			Expect(t.Render()).To(Equal("SYS\nUser: hi\nAssistant: hello"))
		})

		It("renders only the preamble when there are no turns", func() {
			Expect(transcript.Transcript{Preamble: "SYS"}.Render()).To(Equal("SYS"))
		})
	})

	Describe("Prompt", func() {
		It("appends the user message and an open assistant slot", func() {
			Expect(t.Prompt("how are you?")).To(Equal("SYS\nUser: hi\nAssistant: hello\nUser: how are you?\nAssistant:"))
		})
	})

	Describe("Fresh", func() {
		It("is true for a zero transcript", func() {
			Expect(transcript.Transcript{}.Fresh()).To(BeTrue())
		})

		It("is true when the preamble is missing", func() {
			Expect(transcript.Transcript{TurnIndex: 3}.Fresh()).To(BeTrue())
		})

		It("is false for a seeded session", func() {
			Expect(t.Fresh()).To(BeFalse())
		})
	})

	Describe("Append", func() {
		It("does not mutate the receiver", func() {
			next := t.Append(llm.UserTurn("again"))

			Expect(next.Turns).To(HaveLen(3))
			Expect(t.Turns).To(HaveLen(2))
		})
	})
})

var _ = Describe("Codec", func() {
	It("round-trips a transcript whose turns contain newlines", func() {
		original := transcript.Transcript{
			Preamble:  "SYS",
			Turns:     []llm.Turn{llm.UserTurn("line one\nUser: not a turn"), llm.AssistantTurn("ok")},
			TurnIndex: 1,
		}

		encoded, err := transcript.Encode(original)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := transcript.Decode(encoded)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded).To(Equal(original))
	})

	It("decodes an empty value as an empty transcript", func() {
		decoded, err := transcript.Decode("")
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.IsEmpty()).To(BeTrue())
		Expect(decoded.Fresh()).To(BeTrue())
	})

	It("rejects malformed JSON", func() {
		_, err := transcript.Decode(`{"preamble": `)
		Expect(err).To(HaveOccurred())
	})

	Context("with a legacy newline-delimited value", func() {
		It("splits the preamble from the turns", func() {
			decoded, err := transcript.Decode("SYS\nUser: hi\nAssistant: hello")
			Expect(err).NotTo(HaveOccurred())

			Expect(decoded.Preamble).To(Equal("SYS"))
			Expect(decoded.Turns).To(Equal([]llm.Turn{llm.UserTurn("hi"), llm.AssistantTurn("hello")}))
			Expect(decoded.TurnIndex).To(Equal(1))
		})

		It("folds unprefixed lines into the preceding record", func() {
			decoded, err := transcript.Decode("System prompt: be kind\n  stay brief\nUser: hi\nAssistant: one\ntwo")
			Expect(err).NotTo(HaveOccurred())

			Expect(decoded.Preamble).To(Equal("System prompt: be kind\n  stay brief"))
			Expect(decoded.Turns).To(HaveLen(2))
			Expect(decoded.Turns[1].Content).To(Equal("one\ntwo"))
		})

		It("treats a preamble without turns as already seeded", func() {
			decoded, err := transcript.Decode("SYS")
			Expect(err).NotTo(HaveOccurred())

			Expect(decoded.Preamble).To(Equal("SYS"))
			Expect(decoded.Turns).To(BeEmpty())
			Expect(decoded.TurnIndex).To(Equal(1))
			Expect(decoded.Fresh()).To(BeFalse())
		})

		It("accepts an assistant line with no content", func() {
			decoded, err := transcript.Decode("SYS\nUser: hi\nAssistant:")
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded.Turns[1]).To(Equal(llm.AssistantTurn("")))
		})
	})
})
