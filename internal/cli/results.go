package cli

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quantmesh/QuorumGo/internal/config"
)

// ResultSummary describes one saved run result on disk.
type ResultSummary struct {
	Kind      string    `json:"kind"` // deliberation, consensus, evolution
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// ListResults walks the results directory and summarizes the saved runs,
// newest first.
func ListResults(cfg *config.Config) ([]ResultSummary, error) {
	var results []ResultSummary

	err := filepath.WalkDir(cfg.ResultsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		name := filepath.Base(path)
		kind, _, found := strings.Cut(name, "_")
		if !found {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		results = append(results, ResultSummary{
			Kind:      kind,
			FileName:  name,
			CreatedAt: info.ModTime(),
			Size:      info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	return results, nil
}

func runResultsCommand(cfg *config.Config) error {
	results, err := ListResults(cfg)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render(" Saved Results "))
	if len(results) == 0 {
		fmt.Println(pendingStyle.Render("No results yet."))
		return nil
	}
	for _, r := range results {
		fmt.Printf("  %-14s %-45s %s\n", r.Kind, r.FileName, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
