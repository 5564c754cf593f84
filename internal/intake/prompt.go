package intake

import (
	"fmt"
	"regexp"
	"strings"
)

// methodology is the fixed interviewing brief appended to every generated
// description. It is never parameterized.
const methodology = `Use Lenny Rachitsky's interviewing methodology:

THREE-LAYER APPROACH:
1. Origin Story - Start with how they discovered the problem or need
2. Framework - Extract their mental model, criteria, and tradeoffs
3. Application - Get specific examples and concrete details

CORE TECHNIQUES:
- "Pull the thread" - When something interesting emerges, dig deeper
- Find tensions - Explore contradictions and tradeoffs
- Seek specifics - Ask for concrete examples for broad claims
- Pause and summarize - Periodically reflect back what you've heard

VOICE:
- Warm, curious, intellectually engaged
- Use phrases like "I'm curious...", "That's really interesting...", "Can you give me a specific example?"
- Take a student posture, not an expert position`

var domainSuffix = regexp.MustCompile(`(?i)\.(com|io|co|ai|org|net)$`)

// CompanyName strips a trailing TLD suffix from the company domain. An empty
// domain yields the given fallback.
func CompanyName(domain, fallback string) string {
	if domain == "" {
		return fallback
	}
	return domainSuffix.ReplaceAllString(domain, "")
}

// researchGoal returns the goal phrase and the use-case specific context
// block for a record. The default branch passes the raw use case through as
// the goal so that novel intake values still produce a usable description.
func researchGoal(r Record) (goal, context string) {
	switch Canonical(r.UseCase) {
	case UseCaseNewProduct:
		goal = "validate a new product concept"
		context = fmt.Sprintf(`Target audience: %s
Hypothesis to validate: %s

Explore:
- Whether users have the problem this product solves
- How they currently deal with this problem
- Their reaction to the product concept
- What would make them want to use it`,
			orElse(r.MarketOrAudience, "potential customers"),
			orElse(r.Hypothesis, "the product solves a real problem"))

	case UseCaseFeatureRequest:
		goal = "understand feature requests and user needs"
		context = fmt.Sprintf(`Problem users are trying to solve: %s
Current workaround: %s

Explore:
- The specific pain points driving this request
- How they currently work around the limitation
- What an ideal solution would look like
- How important this is relative to other needs`,
			orElse(r.ProblemToSolve, "unspecified"),
			orElse(r.CurrentWorkaround, "unknown"))

	case UseCaseFeatureFeedback:
		goal = "get feedback on an existing feature"
		context = fmt.Sprintf(`Feature: %s
Aspects to explore: %s

Explore:
- How they use this feature today
- What works well and what doesn't
- Specific frustrations or delights
- Ideas for improvement`,
			orElse(r.FeatureName, "unspecified"),
			orElse(r.FeedbackAspects, "general feedback"))

	default:
		goal = r.UseCase
		context = "Explore the user's experience and needs in depth."
	}
	return goal, context
}

// BuildDescription renders a Record into the full generation description:
// title line, research goal with use-case context, then the fixed
// methodology brief. Pure function; compiling the same record twice yields
// byte-identical output.
func BuildDescription(r Record) string {
	company := CompanyName(r.CompanyDomain, "Company")
	goal, context := researchGoal(r)

	return fmt.Sprintf(`Create a research interview called "Lenny Listens: %s" to %s.

%s

%s`, company, goal, context, methodology)
}

// BuildInterviewPrompt renders the short signup-prompt variant. Same branch
// structure as BuildDescription but condensed to a single paragraph of
// context and a one-line methodology summary.
func BuildInterviewPrompt(r Record) string {
	company := CompanyName(r.CompanyDomain, "my company")

	var goal, context string
	switch Canonical(r.UseCase) {
	case UseCaseNewProduct:
		goal = "validate a new product concept"
		context = fmt.Sprintf("Target audience: %s\nHypothesis to validate: %s",
			orElse(r.MarketOrAudience, "potential customers"),
			orElse(r.Hypothesis, "the product solves a real problem"))
	case UseCaseFeatureRequest:
		goal = "understand feature requests and user needs"
		context = fmt.Sprintf("Problem users are trying to solve: %s\nCurrent workaround: %s",
			orElse(r.ProblemToSolve, "unspecified"),
			orElse(r.CurrentWorkaround, "unknown"))
	case UseCaseFeatureFeedback:
		goal = "get feedback on an existing feature"
		context = fmt.Sprintf("Feature: %s\nAspects to explore: %s",
			orElse(r.FeatureName, "unspecified"),
			orElse(r.FeedbackAspects, "general feedback"))
	default:
		goal = "understand customer needs"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a customer research interview for %s to %s. %s", company, goal, context)
	sb.WriteString("\n\nUse Lenny Rachitsky's interviewing methodology: pull the thread on interesting topics, find tensions and contradictions, seek specific examples, and maintain a warm, curious tone.")
	return sb.String()
}

func orElse(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
