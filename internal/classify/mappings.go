package classify

import "github.com/wesm/work-inbox/internal/models"

// labelRules apply to GitHub labels and Azure DevOps tags alike. Priorities stay within
// 0..15 so a label match never outranks a type name match.
var labelRules = []Rule{
	NewRule(`^(type[:/ ]\s*)?bug$|\bbug\b`, models.KindBug, 15),
	NewRule(`\bdefect\b`, models.KindDefect, 15),
	NewRule(`\bepic\b`, models.KindEpic, 14),
	NewRule(`\b(user[ -]?)?story\b`, models.KindUserStory, 13),
	NewRule(`^(type[:/ ]\s*)?(feature|feat)$|\bfeature request\b`, models.KindFeature, 12),
	NewRule(`\benhancement\b`, models.KindEnhancement, 12),
	NewRule(`\bsub[- ]?task\b`, models.KindSubTask, 11),
	NewRule(`\btech(nical)?[- ]?debt\b`, models.KindTechDebt, 11),
	NewRule(`\brefactor(ing)?\b`, models.KindRefactor, 10),
	NewRule(`\bspike\b`, models.KindSpike, 10),
	NewRule(`\bresearch\b|\binvestigation\b`, models.KindResearch, 9),
	NewRule(`\bdoc(s|umentation)?\b`, models.KindDocumentation, 9),
	NewRule(`\bquestion\b|\bhelp wanted\b`, models.KindQuestion, 8),
	NewRule(`\btests?\b|\btesting\b|\bqa\b`, models.KindTest, 8),
	NewRule(`\bimprovement\b|\bperformance\b|\bperf\b`, models.KindImprovement, 7),
	NewRule(`\btask\b|\bchore\b`, models.KindTask, 5),
	NewRule(`\bfeature\b`, models.KindFeature, 4),
}

// titleRules follow conventional-commit style prefixes and common wording.
var titleRules = []Rule{
	NewRule(`^\s*(fix|bug|hotfix)(\(.+\))?!?:`, models.KindBug, 15),
	NewRule(`^\s*feat(ure)?(\(.+\))?!?:`, models.KindFeature, 15),
	NewRule(`^\s*docs?(\(.+\))?:`, models.KindDocumentation, 15),
	NewRule(`^\s*refactor(\(.+\))?:`, models.KindRefactor, 15),
	NewRule(`^\s*test(s)?(\(.+\))?:`, models.KindTest, 15),
	NewRule(`^\s*(perf|improvement)(\(.+\))?:`, models.KindImprovement, 14),
	NewRule(`^\s*chore(\(.+\))?:`, models.KindTask, 12),
	NewRule(`^\s*\[?spike\]?[: ]`, models.KindSpike, 12),
	NewRule(`^\s*\[?epic\]?[: ]`, models.KindEpic, 12),
	NewRule(`\b(crash(es)?|broken|regression|error|fails?|failing)\b`, models.KindBug, 10),
	NewRule(`\btech(nical)?[- ]?debt\b`, models.KindTechDebt, 10),
	NewRule(`\b(investigate|research|evaluate)\b`, models.KindResearch, 8),
	NewRule(`\b(document|readme)\b`, models.KindDocumentation, 8),
	NewRule(`\b(add|support|implement|introduce)\b`, models.KindFeature, 5),
	NewRule(`\b(improve|optimi[sz]e|speed up)\b`, models.KindImprovement, 5),
	NewRule(`\?\s*$`, models.KindQuestion, 3),
}

// AzureDevOps classifies ADO work items primarily by their WorkItemType field.
var AzureDevOps = NewMapping(
	[]TypeName{
		{Name: "bug", Kind: models.KindBug},
		{Name: "defect", Kind: models.KindDefect},
		{Name: "feature", Kind: models.KindFeature},
		{Name: "epic", Kind: models.KindEpic},
		{Name: "user story", Kind: models.KindUserStory},
		{Name: "product backlog item", Kind: models.KindUserStory},
		{Name: "requirement", Kind: models.KindUserStory},
		// sub-task spellings precede "task" so the substring fallback prefers them
		{Name: "sub-task", Kind: models.KindSubTask},
		{Name: "subtask", Kind: models.KindSubTask},
		{Name: "sub task", Kind: models.KindSubTask},
		{Name: "task", Kind: models.KindTask},
		{Name: "spike", Kind: models.KindSpike},
		{Name: "enhancement", Kind: models.KindEnhancement},
		{Name: "improvement", Kind: models.KindImprovement},
		{Name: "tech debt", Kind: models.KindTechDebt},
		{Name: "test case", Kind: models.KindTest},
		{Name: "test plan", Kind: models.KindTest},
		{Name: "test suite", Kind: models.KindTest},
		{Name: "issue", Kind: models.KindTask},
		{Name: "impediment", Kind: models.KindOther},
		{Name: "change request", Kind: models.KindEnhancement},
		{Name: "review", Kind: models.KindOther},
	},
	labelRules,
	titleRules,
	models.KindTask,
)

// GitHub has no work item type concept, so only labels and titles apply.
var GitHub = NewMapping(
	nil,
	labelRules,
	titleRules,
	models.KindOther,
)
