package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"sigs.k8s.io/yaml"
)

// LocalStore keeps branches as directories under a root path. It implements
// the same branch/merge lifecycle the hosted store exposes so the engine and
// its tests run without network access.
type LocalStore struct {
	root string

	mu        sync.Mutex
	nextReqID int
	approvals map[int]string // request id -> branch
}

// Make sure we conform to Store interface
var _ Store = (*LocalStore)(nil)

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(root, MainBranch), 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &LocalStore{root: root, nextReqID: 1, approvals: map[int]string{}}, nil
}

func (s *LocalStore) branchDir(branch string) string {
	if branch == "" {
		branch = MainBranch
	}
	return filepath.Join(s.root, branch)
}

func (s *LocalStore) CreateBranch(_ context.Context, name string) error {
	dir := s.branchDir(name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("branch %q already exists", name)
	}
	if err := os.MkdirAll(filepath.Join(dir, ErrorsDir), 0o755); err != nil {
		return err
	}
	return nil
}

func (s *LocalStore) DeleteBranch(_ context.Context, name string) error {
	if name == "" || name == MainBranch {
		return fmt.Errorf("refusing to delete branch %q", name)
	}
	return os.RemoveAll(s.branchDir(name))
}

func (s *LocalStore) ListBranchNames(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != MainBranch {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalStore) LoadSpreadsheet(_ context.Context, branch string) (*Spreadsheet, error) {
	dir := s.branchDir(branch)
	if content, err := os.ReadFile(filepath.Join(dir, SpreadsheetFilename)); err == nil {
		return ParseCSV(content)
	}
	// an uploaded workbook may sit next to (or instead of) the csv
	xlsxName := strings.TrimSuffix(SpreadsheetFilename, ".csv") + ".xlsx"
	content, err := os.ReadFile(filepath.Join(dir, xlsxName))
	if err != nil {
		return nil, fmt.Errorf("loading spreadsheet from branch %q: %w", branch, err)
	}
	return ParseXLSX(content)
}

func (s *LocalStore) UpdateSpreadsheet(_ context.Context, branch string, content []byte, message string) error {
	zap.S().Named("filestore").Debugf("updating spreadsheet on %q: %s", branch, message)
	return os.WriteFile(filepath.Join(s.branchDir(branch), SpreadsheetFilename), content, 0o644)
}

func (s *LocalStore) LoadOptions(_ context.Context, branch string) (Options, error) {
	var opts Options
	content, err := os.ReadFile(filepath.Join(s.branchDir(branch), OptionsFilename))
	if err != nil {
		return opts, fmt.Errorf("loading options from branch %q: %w", branch, err)
	}
	if err := yaml.Unmarshal(content, &opts); err != nil {
		return opts, fmt.Errorf("decoding %s: %w", OptionsFilename, err)
	}
	return opts, nil
}

func (s *LocalStore) UpdateOptions(_ context.Context, branch string, opts Options, message string) error {
	content, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}
	zap.S().Named("filestore").Debugf("updating options on %q: %s", branch, message)
	return os.WriteFile(filepath.Join(s.branchDir(branch), OptionsFilename), content, 0o644)
}

func (s *LocalStore) WriteErrorReport(_ context.Context, branch, name, content string) (string, error) {
	dir := filepath.Join(s.branchDir(branch), ErrorsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

func (s *LocalStore) CreateApprovalRequest(_ context.Context, branch, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.branchDir(branch)); err != nil {
		return 0, fmt.Errorf("branch %q not found", branch)
	}
	id := s.nextReqID
	s.nextReqID++
	s.approvals[id] = branch
	zap.S().Named("filestore").Infof("approval request %d opened for branch %q: %s", id, branch, message)
	return id, nil
}

func (s *LocalStore) MergeApprovalRequest(_ context.Context, id int, message string) error {
	s.mu.Lock()
	branch, ok := s.approvals[id]
	delete(s.approvals, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("approval request %d: %w", id, ErrMergeRejected)
	}

	// the spreadsheet and options must both exist on the branch for the
	// merge to be accepted
	dir := s.branchDir(branch)
	for _, name := range []string{SpreadsheetFilename, OptionsFilename} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("branch %q is missing %s: %w", branch, name, ErrMergeRejected)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("merging branch %q: %w", branch, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("merging branch %q: %w", branch, err)
		}
		if err := os.WriteFile(filepath.Join(s.branchDir(MainBranch), e.Name()), content, 0o644); err != nil {
			return fmt.Errorf("merging branch %q: %w", branch, err)
		}
	}
	zap.S().Named("filestore").Infof("approval request %d merged (branch %q): %s", id, branch, message)
	return nil
}
