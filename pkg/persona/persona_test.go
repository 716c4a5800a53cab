package persona_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/pkg/persona"
)

var _ = Describe("Persona", func() {
	DescribeTable("emotional depth",
		func(level int, expected string) {
			Expect(persona.EmotionalDepth(level)).To(Equal(expected))
		},
		Entry("lowest level", 0, "You respond with factual detachment, with no emotion."),
		Entry("default level", 5, "You let past emotion subtly influence tone and pacing."),
		Entry("highest level", 9, "You let emotional memory dominate tone and logic."),
		Entry("above range", 12, persona.InvalidDepth),
		Entry("below range", -1, persona.InvalidDepth),
	)

	DescribeTable("trust baseline",
		func(level int, expected string) {
			Expect(persona.TrustBaseline(level)).To(Equal(expected))
		},
		Entry("lowest level", 0, "You assume all actions are manipulative and trust no one."),
		Entry("highest level", 9, "You blind trust in others, unshakeable belief in their integrity."),
		Entry("above range", 10, persona.InvalidTrust),
	)

	Describe("Preamble", func() {
		It("embeds both trait directives", func() {
			preamble := persona.Default.Preamble()

			Expect(preamble).To(HavePrefix("System prompt: You are a professional medical advisor."))
			Expect(preamble).To(ContainSubstring(persona.EmotionalDepth(5)))
			Expect(preamble).To(ContainSubstring(persona.TrustBaseline(5)))
			Expect(preamble).To(ContainSubstring("Do not talk like an AI."))
		})

		It("carries the invalid sentence for an out-of-range depth instead of failing", func() {
			preamble := persona.Persona{EmotionalDepth: 12, TrustBaseline: 3}.Preamble()

			Expect(preamble).To(ContainSubstring("Invalid emotional depth."))
			Expect(preamble).To(ContainSubstring(persona.TrustBaseline(3)))
		})
	})
})
