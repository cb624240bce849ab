package models

import "time"

// Category defines the struct for the 'categories' table
type Category struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Slug      string    `json:"slug" db:"slug"`
	ParentID  *int64    `json:"parentId,omitempty" db:"parent_id"` // Use pointer for NULL
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	// Virtual field used to build the tree view
	Children []Category `json:"children,omitempty" db:"-"`
}

// BuildCategoryTree nests a flat category list under its parents.
// Categories whose parent is missing are returned as roots.
func BuildCategoryTree(flat []Category) []Category {
	byParent := make(map[int64][]Category)
	known := make(map[int64]bool, len(flat))
	for _, c := range flat {
		known[c.ID] = true
	}

	var roots []Category
	for _, c := range flat {
		if c.ParentID == nil || !known[*c.ParentID] {
			roots = append(roots, c)
			continue
		}
		byParent[*c.ParentID] = append(byParent[*c.ParentID], c)
	}

	var attach func(nodes []Category) []Category
	attach = func(nodes []Category) []Category {
		for i := range nodes {
			nodes[i].Children = attach(byParent[nodes[i].ID])
		}
		return nodes
	}
	return attach(roots)
}
