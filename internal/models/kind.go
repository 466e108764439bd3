package models

// WorkItemKind is the closed classification taxonomy for work items
type WorkItemKind string

const (
	KindBug           WorkItemKind = "bug"
	KindDefect        WorkItemKind = "defect"
	KindFeature       WorkItemKind = "feature"
	KindEnhancement   WorkItemKind = "enhancement"
	KindEpic          WorkItemKind = "epic"
	KindUserStory     WorkItemKind = "userStory"
	KindTask          WorkItemKind = "task"
	KindSubTask       WorkItemKind = "subTask"
	KindSpike         WorkItemKind = "spike"
	KindDocumentation WorkItemKind = "documentation"
	KindImprovement   WorkItemKind = "improvement"
	KindRefactor      WorkItemKind = "refactor"
	KindTechDebt      WorkItemKind = "techDebt"
	KindQuestion      WorkItemKind = "question"
	KindResearch      WorkItemKind = "research"
	KindTest          WorkItemKind = "test"
	KindOther         WorkItemKind = "other"
)

// WorkItemKinds lists every kind in declaration order
var WorkItemKinds = []WorkItemKind{
	KindBug, KindDefect, KindFeature, KindEnhancement, KindEpic, KindUserStory, KindTask,
	KindSubTask, KindSpike, KindDocumentation, KindImprovement, KindRefactor, KindTechDebt,
	KindQuestion, KindResearch, KindTest, KindOther,
}

// Valid reports whether k is part of the taxonomy
func (k WorkItemKind) Valid() bool {
	for _, kind := range WorkItemKinds {
		if kind == k {
			return true
		}
	}
	return false
}
