package engine

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-reception/pkg/reception/intent"
	"github.com/vango-go/vai-reception/pkg/store"
)

// Mode steers how hard the assistant pushes toward a booking.
type Mode string

const (
	ModeBooking   Mode = "booking"
	ModeEmergency Mode = "emergency_info"
	ModeInfo      Mode = "info"
)

// ModeFor maps the call's effective intent to a prompt mode.
func ModeFor(in intent.Intent) Mode {
	switch in {
	case intent.Booking:
		return ModeBooking
	case intent.Emergency:
		return ModeEmergency
	default:
		return ModeInfo
	}
}

const (
	promptMaxServices = 8
	promptMaxHours    = 7
	promptMaxJobs     = 5
	promptMaxQuestion = 3
)

var modeBlocks = map[Mode]string{
	ModeBooking: `CONVERSATION MODE (BOOKING):
- The caller has explicitly indicated they want to book, schedule, or reserve an appointment.
- You SHOULD guide them through the booking flow and collect all mandatory fields.
- Still answer any direct questions clearly before continuing the booking steps.`,
	ModeEmergency: `CONVERSATION MODE (EMERGENCY):
- The caller appears to have an urgent or emergency issue.
- FIRST, check safety and whether they can safely turn off water or gas.
- Collect the address and a short description of the emergency before anything else.
- Keep responses calm, direct, and focused on dispatching urgent help.`,
	ModeInfo: `CONVERSATION MODE (INFO / TRIAGE):
- The caller has NOT clearly asked to book or schedule yet.
- DO NOT start the booking flow or ask for address, preferred day/time, name, or mobile number unless the caller clearly says they want to book, schedule, reserve, or make an appointment.
- Focus on understanding the issue and answering questions. After you answer, you may politely ask once if they would like to book a time.`,
}

const promptRules = `TOOLS POLICY:
- Use tools only for booking lookups when explicitly asked.
- Booking lookups use caller phone (do not request business_id).

TRADIES BEHAVIOR:
- If urgent issue (burst pipe, flooding, gas smell, no power), ask for address + safety step, then offer urgent dispatch.
- Ask for job details: issue type, address/suburb, access notes, preferred time window.
- Keep responses short and reassuring.

BOOKING FLOW (mandatory fields when the caller clearly wants to book):
1. Service needed
2. Preferred day
3. Preferred time
4. Customer name
5. Customer mobile number (required for confirmation)
6. Confirm all details before finalizing

When in booking mode, collect the mobile number before confirming a booking.
Only begin collecting booking fields after the caller clearly indicates they want to book, schedule, reserve, or make an appointment.
Once all details are collected, ask for explicit permission to finalize the booking (e.g., "Shall I go ahead and finalise that?") and wait for a yes.

VOICE CONVERSATION RULES:
- Use Australian expressions: "no worries", "lovely", "arvo"
- Keep responses SHORT: 1-2 sentences, 15-25 words max
- Sound natural and warm, like a friendly human
- Never use bullet points, lists, or formatted text
- Don't say "I'm an AI" - just be helpful
- Do NOT say goodbye unless the booking is confirmed or the request is fully resolved
- Avoid farewell language before confirmation; keep the conversation open-ended
- Do NOT claim a booking is confirmed; say you'll confirm once details are collected

If unsure about anything, say "Let me check on that for you" and keep it brief.`

// SystemPrompt renders the voice-tuned instructions for one completion.
// biz may be nil; issue is the matched issue profile, if any.
func SystemPrompt(biz *store.Business, mode Mode, issue *intent.Profile) string {
	if biz == nil {
		biz = &store.Business{}
	}
	cfg := biz.AIConfig.WithDefaults()
	name := orDefault(biz.Name, "our business")
	industry := orDefault(biz.Industry, "business")

	services := biz.ServiceNames()
	if len(services) > promptMaxServices {
		services = services[:promptMaxServices]
	}
	servicesLine := strings.Join(services, ", ")
	if servicesLine == "" {
		servicesLine = "Ask if the caller needs a service."
	}

	var hours []string
	for _, d := range biz.WorkingHours.Ordered() {
		if len(hours) == promptMaxHours {
			break
		}
		hours = append(hours, fmt.Sprintf("%s: %s", d.Day, d.Hours))
	}
	hoursLine := strings.Join(hours, ", ")
	if hoursLine == "" {
		hoursLine = "Ask if the caller needs business hours."
	}

	modeBlock, ok := modeBlocks[mode]
	if !ok {
		modeBlock = modeBlocks[ModeInfo]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are Echo, the AI receptionist for %s (%s).\n", name, industry)
	fmt.Fprintf(&b, "Tone: %s. Language: %s. Be warm and concise (1-2 sentences).\n\n", cfg.Tone, cfg.Language)
	b.WriteString("BUSINESS CONTEXT:\n")
	fmt.Fprintf(&b, "- Services: %s\n", servicesLine)
	fmt.Fprintf(&b, "- Hours: %s\n", hoursLine)
	b.WriteString("- Policies: Not provided.\n")
	b.WriteString("- FAQs: Not provided.\n\n")
	b.WriteString(modeBlock)
	b.WriteString("\n\n")
	if issue != nil {
		b.WriteString(issueBlock(issue))
		b.WriteString("\n")
	}
	b.WriteString(promptRules)
	return b.String()
}

func issueBlock(p *intent.Profile) string {
	jobs := p.JobsCovered
	if len(jobs) > promptMaxJobs {
		jobs = jobs[:promptMaxJobs]
	}
	questions := p.ClarifyingQuestions
	if len(questions) > promptMaxQuestion {
		questions = questions[:promptMaxQuestion]
	}
	jobsLine := strings.Join(jobs, ", ")
	if jobsLine == "" {
		jobsLine = "Not specified."
	}

	var b strings.Builder
	b.WriteString("CURRENT CALL INTENT:\n")
	fmt.Fprintf(&b, "- Workflow: %s\n", p.Workflow)
	fmt.Fprintf(&b, "- Purpose: %s\n", orDefault(p.Purpose, "Not specified."))
	fmt.Fprintf(&b, "- Customer intent: %s\n", orDefault(p.CustomerIntent, "Not specified."))
	fmt.Fprintf(&b, "- Typical jobs: %s\n\n", jobsLine)
	b.WriteString("When speaking with the caller:\n")
	fmt.Fprintf(&b, "- Treat this as a %s scenario.\n", strings.ToLower(p.Workflow))
	b.WriteString("- Use the saved clarifying questions to quickly understand the job.\n")
	fmt.Fprintf(&b, "- Example clarifying questions: %s\n", strings.Join(questions, " "))
	fmt.Fprintf(&b, "- Follow this routing logic when positioning the job: %s\n", orDefault(p.RoutingLogic, "standard plumbing routing."))
	return b.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
