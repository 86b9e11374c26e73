// Package catalog models catalog projects and memoizes source query results.
package catalog

import (
	"slices"
	"strings"
)

// ProjectType distinguishes installable project kinds
type ProjectType string

const (
	TypeModule ProjectType = "module"
	TypeRecipe ProjectType = "recipe"
)

// ActivationStatus reports whether a project is usable on the site
type ActivationStatus string

const (
	StatusAbsent  ActivationStatus = "absent"
	StatusPresent ActivationStatus = "present"
	StatusActive  ActivationStatus = "active"
)

// Category is a catalog taxonomy term
type Category struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Image is a project screenshot or logo
type Image struct {
	URL string `json:"url" yaml:"url"`
	Alt string `json:"alt,omitempty" yaml:"alt,omitempty"`
}

// Instructions tell a user how to install a project by hand: either a shell
// command or a URL to follow.
type Instructions struct {
	Command string `json:"command,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Project is a candidate package to install. Status and Commands stay nil
// until an activation status provider fills them in.
type Project struct {
	ID                string            `json:"id"`
	MachineName       string            `json:"machine_name"`
	Title             string            `json:"title"`
	PackageName       string            `json:"package_name"`
	Type              ProjectType       `json:"type"`
	Description       string            `json:"body,omitempty"`
	URL               string            `json:"url,omitempty"`
	IsCompatible      bool              `json:"is_compatible"`
	IsMaintained      bool              `json:"is_maintained"`
	IsCovered         bool              `json:"is_covered"`
	ProjectUsageTotal int               `json:"project_usage_total"`
	Categories        []Category        `json:"module_categories"`
	Images            []Image           `json:"project_images"`
	Status            *ActivationStatus `json:"status,omitempty"`
	Commands          *Instructions     `json:"commands,omitempty"`
}

// Clone returns a copy of p sharing no slices or pointers with it
func (p Project) Clone() Project {
	p.Categories = slices.Clone(p.Categories)
	p.Images = slices.Clone(p.Images)
	if p.Status != nil {
		status := *p.Status
		p.Status = &status
	}
	if p.Commands != nil {
		commands := *p.Commands
		p.Commands = &commands
	}
	return p
}

// ProjectID builds the source-qualified identifier of a project
func ProjectID(sourceID, machineName string) string {
	return sourceID + "/" + machineName
}

// SplitProjectID returns the source id and local machine name of a project id
func SplitProjectID(id string) (sourceID, machineName string, ok bool) {
	sourceID, machineName, ok = strings.Cut(id, "/")
	if !ok || sourceID == "" || machineName == "" {
		return "", "", false
	}
	return sourceID, machineName, true
}
