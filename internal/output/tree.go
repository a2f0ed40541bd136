package output

import (
	"context"
	"fmt"

	"github.com/disiqueira/gotree/v3"

	"bmirror/internal/bspace"
)

// SiteTree fetches and renders the remote tree of one site: its pages,
// its assignments with their attachments, and its resource folders.
func SiteTree(ctx context.Context, s *bspace.Site) (string, error) {
	root := gotree.New(s.String())

	pages, err := s.Pages(ctx)
	if err != nil {
		return "", fmt.Errorf("pages: %w", err)
	}
	pt := root.Add(fmt.Sprintf("pages (%d)", len(pages)))
	for _, p := range pages {
		title, err := p.Title()
		if err != nil {
			title = "(untitled page)"
		}
		pt.Add(title)
	}

	assignments, err := s.Assignments(ctx)
	if err != nil {
		return "", fmt.Errorf("assignments: %w", err)
	}
	at := root.Add(fmt.Sprintf("assignments (%d)", len(assignments)))
	for _, a := range assignments {
		node := at.Add(a.Title)
		for _, att := range a.Attachments {
			node.Add("📎 " + att.Name)
		}
	}

	folder, err := s.Resources(ctx)
	if err != nil {
		return "", fmt.Errorf("resources: %w", err)
	}
	if err := addFolder(ctx, root.Add("resources"), folder); err != nil {
		return "", err
	}
	return root.Print(), nil
}

func addFolder(ctx context.Context, node gotree.Tree, f *bspace.Folder) error {
	items, err := f.Items(ctx)
	if err != nil {
		return fmt.Errorf("folder %s: %w", f.URL(), err)
	}
	for _, it := range items {
		switch it := it.(type) {
		case *bspace.Folder:
			if err := addFolder(ctx, node.Add(it.Title()+"/"), it); err != nil {
				return err
			}
		case *bspace.File:
			label := it.Title()
			if it.Filename() != label {
				label += " → " + it.Filename()
			}
			node.Add(label)
		}
	}
	return nil
}
