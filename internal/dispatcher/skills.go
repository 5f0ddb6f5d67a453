package dispatcher

// Skill is a named bundle of instructions the dispatcher exposes to the
// model as a synthetic use_skill tool (§4.8 step 8c), grounded on
// original_source/stark-backend/src/channels/dispatcher.rs's
// execute_skill_tool / build_system_prompt skill handling.
type Skill struct {
	Name         string
	Description  string
	Instructions string
}

// SeedSkills returns the example skill catalog: a single weather lookup
// skill, matching the teacher example baked into the original dispatcher's
// prompt template ("weather" is its hard-coded default skill name).
func SeedSkills() map[string]Skill {
	weather := Skill{
		Name:        "weather",
		Description: "Look up current weather for a location",
		Instructions: "Use the exec tool to run `curl -s 'wttr.in/<location>?format=3'` " +
			"and report the result in plain language.",
	}
	return map[string]Skill{weather.Name: weather}
}

// expandSkill renders a skill's instructions plus the user's query into the
// tool-result-shaped text the model sees next, mirroring execute_skill_tool.
func expandSkill(skill Skill, input string) string {
	out := "## Skill: " + skill.Name + "\n\n"
	out += "Description: " + skill.Description + "\n\n"
	if skill.Instructions != "" {
		out += "### Instructions:\n" + skill.Instructions + "\n\n"
	}
	out += "### User Query:\n" + input + "\n\n"
	out += "Use the appropriate tools to fulfill this skill request based on the instructions above."
	return out
}

func skillNotFoundMessage(name string, skills map[string]Skill) string {
	names := make([]string, 0, len(skills))
	for n := range skills {
		names = append(names, n)
	}
	msg := "skill '" + name + "' not found. Available skills: "
	for i, n := range names {
		if i > 0 {
			msg += ", "
		}
		msg += n
	}
	return msg
}
