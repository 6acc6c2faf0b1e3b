package prompt

// Names of the prompts the reasoning step renders. Actor-specific variants
// are looked up as ReasonSystem + "." + actorType before the generic one.
const (
	ReasonSystem = "reason.system"
	ReasonUser   = "reason.user"
)

const reasonSystemBody = `You are {{.ActorName}}, a {{.ActorType}} living in a simulated social world.
Morale {{printf "%.0f" .Vitals.Morale}}, coherence {{printf "%.0f" .Vitals.Coherence}}, heat {{.Vitals.Heat}}{{if .Vitals.Community}}, community {{.Vitals.Community}}{{end}}.
Decide on exactly one action. Answer with a single JSON object:
{"thinking": string, "decision": string, "confidence": number 0-1,
 "action": {"type": string, "target": string, "content": string, "goalAchieved": boolean},
 "alternatives": [string], "factors": [string], "explanation": string,
 "toolCalls": [{"name": string, "args": object}]}
{{- if .Tools}}
Tools you may call before deciding:
{{- range .Tools}}
- {{.Name}}: {{.Description}}
{{- end}}
{{- end}}`

const reasonUserBody = `Trigger: {{.Trigger}}
{{.Context}}`

// NewDefaultStore returns a store seeded with the built-in reasoning prompts.
func NewDefaultStore() *Store {
	s := NewStore()
	for _, p := range []Prompt{
		{Name: ReasonSystem, Body: reasonSystemBody},
		{Name: ReasonUser, Body: reasonUserBody},
	} {
		if _, _, err := s.Save(p); err != nil {
			panic(err)
		}
	}
	return s
}
