package models

import "encoding/json"

// Category classifies an audit and selects the evaluator that analyzes it.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryDockerContainerResource
	CategoryVMCPU
	CategoryVMFilesystem
	CategoryVMMemory
	CategoryVMUsers
)

var categoryNames = map[Category]string{
	CategoryUnknown:                 "unknown",
	CategoryDockerContainerResource: "docker_container_resource",
	CategoryVMCPU:                   "vm_cpu",
	CategoryVMFilesystem:            "vm_filesystem",
	CategoryVMMemory:                "vm_memory",
	CategoryVMUsers:                 "vm_users",
}

// Categories lists every known category, in declaration order.
var Categories = []Category{
	CategoryDockerContainerResource,
	CategoryVMCPU,
	CategoryVMFilesystem,
	CategoryVMMemory,
	CategoryVMUsers,
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return categoryNames[CategoryUnknown]
}

// ParseCategory maps a wire name to a Category. Unrecognised names map to
// CategoryUnknown with ok == false.
func ParseCategory(s string) (Category, bool) {
	for c, name := range categoryNames {
		if c != CategoryUnknown && name == s {
			return c, true
		}
	}
	return CategoryUnknown, false
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON never fails on an unrecognised name; it yields CategoryUnknown
// so that analysis can ignore the audit instead of rejecting it.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c, _ = ParseCategory(s)
	return nil
}
