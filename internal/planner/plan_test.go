package planner

import (
	"testing"
	"time"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/config"
)

func newTestCatalogue() *catalogue.Catalogue {
	return catalogue.New()
}

func basePlanner() *Planner {
	return &Planner{
		SourceRoots:      []string{"/home/user/docs"},
		SaveRoot:         "backup",
		Mode:             config.ModeOneWay,
		CompareMethod:    config.CompareDateTimeSize,
		DateDriftSeconds: 2,
		ConflictStrategy: config.ConflictKeepBoth,
	}
}

func TestValidate_RejectsSourceRootUnderSaveRoot(t *testing.T) {
	p := basePlanner()
	p.SourceRoots = []string{"backup/nested"}

	if err := p.Validate(); err == nil {
		t.Fatal("expected an error when a source root lies under the save root")
	}
}

func TestValidate_AllowsDisjointRoots(t *testing.T) {
	p := basePlanner()

	if err := p.Validate(); err != nil {
		t.Fatalf("expected disjoint roots to validate cleanly, got %v", err)
	}
}

func TestPlan_OneWay_CreatesMissingDirectoryAndCopiesNewFile(t *testing.T) {
	cat := newTestCatalogue()
	cat.PutLocal("docs", catalogue.LocalEntry{RelativeKey: "docs", IsFile: false})
	cat.PutLocal("docs/a.txt", catalogue.LocalEntry{
		AbsPath: "/src/docs/a.txt", RelativeKey: "docs/a.txt", IsFile: true, Size: 10,
		ModifiedAt: time.Now(),
	})

	p := basePlanner()
	p.SourceRoots = []string{"/src/docs"}
	p.SaveRoot = "backup"

	actions, stats, err := p.Plan(cat)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if stats.Unchanged != 0 {
		t.Errorf("expected no unchanged files, got %d", stats.Unchanged)
	}

	var sawCreateDir, sawCopy bool

	for _, a := range actions {
		switch a.Variant {
		case CreateDirectory:
			sawCreateDir = true
		case CopyFile:
			sawCopy = true

			if a.Target != "backup/docs/a.txt" {
				t.Errorf("expected remote target backup/docs/a.txt, got %q", a.Target)
			}
		}
	}

	if !sawCreateDir || !sawCopy {
		t.Fatalf("expected both a CreateDirectory and a CopyFile action, got %+v", actions)
	}
}

func TestPlan_OneWay_SkipsUnchangedFile(t *testing.T) {
	cat := newTestCatalogue()
	now := time.Now()

	cat.PutLocal("docs/a.txt", catalogue.LocalEntry{
		AbsPath: "/src/docs/a.txt", RelativeKey: "docs/a.txt", IsFile: true, Size: 10, ModifiedAt: now,
	})
	cat.PutRemoteFile("backup/docs/a.txt", catalogue.RemoteEntry{Size: 10, UpdatedAt: now})

	p := basePlanner()

	actions, stats, err := p.Plan(cat)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if stats.Unchanged != 1 {
		t.Errorf("expected 1 unchanged file, got %d", stats.Unchanged)
	}

	for _, a := range actions {
		if a.Variant == CopyFile || a.Variant == UpdateFile {
			t.Errorf("expected no copy/update action for an unchanged file, got %+v", a)
		}
	}
}

func TestPlan_Priority_OrdersCreateBeforeCopyBeforeDelete(t *testing.T) {
	cat := newTestCatalogue()
	cat.PutLocal("docs", catalogue.LocalEntry{RelativeKey: "docs", IsFile: false})
	cat.PutLocal("docs/new.txt", catalogue.LocalEntry{
		AbsPath: "/src/docs/new.txt", RelativeKey: "docs/new.txt", IsFile: true, Size: 3, ModifiedAt: time.Now(),
	})
	cat.PutRemoteFile("backup/docs/stale.txt", catalogue.RemoteEntry{Size: 3})

	p := basePlanner()
	p.Mode = config.ModeMirror

	actions, _, err := p.Plan(cat)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	for i := 1; i < len(actions); i++ {
		if actions[i-1].Variant.Priority() > actions[i].Variant.Priority() {
			t.Fatalf("actions not priority-sorted: %+v", actions)
		}
	}
}

func TestPlan_Mirror_PrunesRemoteOnlyEntriesInReverseDepthOrder(t *testing.T) {
	cat := newTestCatalogue()
	cat.PutRemoteFolder("backup/docs", catalogue.RemoteEntry{Name: "docs", IsFolder: true})
	cat.PutRemoteFolder("backup/docs/sub", catalogue.RemoteEntry{Name: "sub", IsFolder: true})
	cat.PutRemoteFile("backup/docs/sub/old.txt", catalogue.RemoteEntry{Name: "old.txt", Size: 4})

	p := basePlanner()
	p.Mode = config.ModeMirror

	actions, _, err := p.Plan(cat)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	var deleteOrder []string

	for _, a := range actions {
		if a.Variant == DeleteFile || a.Variant == DeleteDirectory {
			deleteOrder = append(deleteOrder, a.RelativeKey)
		}
	}

	if len(deleteOrder) != 3 {
		t.Fatalf("expected 3 delete actions, got %v", deleteOrder)
	}

	// The file and the deepest directory must both precede the shallower directory.
	shallowIdx := indexOf(deleteOrder, "docs")
	deepDirIdx := indexOf(deleteOrder, "docs/sub")
	fileIdx := indexOf(deleteOrder, "docs/sub/old.txt")

	if !(fileIdx < shallowIdx && deepDirIdx < shallowIdx) {
		t.Fatalf("expected docs/sub and its file to be deleted before docs, got order %v", deleteOrder)
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}

	return -1
}

func TestPlan_TwoWay_CopiesRemoteOnlyFileToLocal(t *testing.T) {
	cat := newTestCatalogue()
	cat.PutRemoteFile("backup/docs/remote.txt", catalogue.RemoteEntry{Name: "remote.txt", Size: 7})

	p := basePlanner()
	p.Mode = config.ModeTwoWay

	actions, _, err := p.Plan(cat)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(actions) != 1 || actions[0].Variant != CopyFile || actions[0].Direction != TargetToSource {
		t.Fatalf("expected a single target-to-source CopyFile action, got %+v", actions)
	}
}

func conflictingCatalogue() *catalogue.Catalogue {
	cat := newTestCatalogue()
	cat.PutLocal("docs/a.txt", catalogue.LocalEntry{
		AbsPath: "/src/docs/a.txt", RelativeKey: "docs/a.txt", IsFile: true,
		Size: 20, ModifiedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	cat.PutRemoteFile("backup/docs/a.txt", catalogue.RemoteEntry{
		Name: "a.txt", Size: 10, UpdatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})

	return cat
}

func TestResolveConflict_SourceWins(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictSourceWins

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(actions) != 1 || actions[0].Direction != SourceToTarget {
		t.Fatalf("expected a single source-to-target action, got %+v", actions)
	}
}

func TestResolveConflict_TargetWins(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictTargetWins

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(actions) != 1 || actions[0].Direction != TargetToSource {
		t.Fatalf("expected a single target-to-source action, got %+v", actions)
	}
}

func TestResolveConflict_Skip(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictSkip

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(actions) != 0 {
		t.Fatalf("expected skip to emit no actions, got %+v", actions)
	}
}

func TestResolveConflict_Newer(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictNewer

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Remote (2026-02-01) is newer than local (2026-01-01).
	if len(actions) != 1 || actions[0].Direction != TargetToSource {
		t.Fatalf("expected the newer (remote) side to win, got %+v", actions)
	}
}

func TestResolveConflict_Older(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictOlder

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Local (2026-01-01) is older than remote (2026-02-01).
	if len(actions) != 1 || actions[0].Direction != SourceToTarget {
		t.Fatalf("expected the older (local) side to win, got %+v", actions)
	}
}

func TestResolveConflict_Larger(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictLarger

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Local is 20 bytes, remote is 10 bytes — local is larger.
	if len(actions) != 1 || actions[0].Direction != SourceToTarget {
		t.Fatalf("expected the larger (local) side to win, got %+v", actions)
	}
}

func TestResolveConflict_KeepBoth_RenamesThenCopies(t *testing.T) {
	p := basePlanner()
	p.Mode = config.ModeTwoWay
	p.ConflictStrategy = config.ConflictKeepBoth

	actions, _, err := p.Plan(conflictingCatalogue())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if len(actions) != 2 {
		t.Fatalf("expected a rename and a copy action, got %+v", actions)
	}

	rename, copyAction := actions[0], actions[1]

	if rename.Variant != RenameFile || copyAction.Variant != CopyFile {
		t.Fatalf("expected [RenameFile, CopyFile], since the rename must vacate the target before the copy lands, got [%s, %s]", rename.Variant, copyAction.Variant)
	}

	if rename.RenameOldName != "a.txt" {
		t.Errorf("expected rename to target the original name a.txt, got %q", rename.RenameOldName)
	}

	if rename.RenameNewName == "a.txt" || rename.RenameNewName == "" {
		t.Errorf("expected a distinct timestamped rename target, got %q", rename.RenameNewName)
	}
}

func TestKeepBothName_Format(t *testing.T) {
	at := time.Date(2026, 7, 31, 14, 5, 9, 0, time.UTC)

	got := keepBothName("report.pdf", at)
	want := "report (20260731_140509).pdf"

	if got != want {
		t.Errorf("keepBothName() = %q, want %q", got, want)
	}
}

func TestKeepBothName_NoExtension(t *testing.T) {
	at := time.Date(2026, 7, 31, 14, 5, 9, 0, time.UTC)

	got := keepBothName("README", at)
	want := "README (20260731_140509)"

	if got != want {
		t.Errorf("keepBothName() = %q, want %q", got, want)
	}
}

func TestCompareWithRemote_HashFallsBackWhenUnknown(t *testing.T) {
	p := basePlanner()
	p.CompareMethod = config.CompareHash

	local := catalogue.LocalEntry{Size: 5}
	remote := catalogue.RemoteEntry{Size: 5}

	if p.compareWithRemote(local, remote) {
		t.Error("expected comparison to report a difference when neither hash is known")
	}

	local.FullSHA1 = "abc"
	remote.ContentHash = "abc"

	if !p.compareWithRemote(local, remote) {
		t.Error("expected matching content hashes to compare equal")
	}
}
