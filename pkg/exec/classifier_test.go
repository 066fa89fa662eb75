package exec

import "testing"

func TestClassifyReadOnly(t *testing.T) {
	c := Classify(ParseCommand("ls -la /tmp"))
	if c.Category != CategoryReadOnly || !c.IsReadOnly {
		t.Fatalf("expected read-only, got %+v", c)
	}
}

func TestClassifyDangerousRmRf(t *testing.T) {
	c := Classify(ParseCommand("rm -rf /"))
	if c.Category != CategoryDangerous || !c.IsDangerous {
		t.Fatalf("expected dangerous, got %+v", c)
	}
}

func TestClassifyGitReadOnlyVerb(t *testing.T) {
	c := Classify(ParseCommand("git status"))
	if c.Category != CategoryReadOnly {
		t.Fatalf("expected git status read-only, got %+v", c)
	}
}

func TestClassifyGitWriteVerb(t *testing.T) {
	c := Classify(ParseCommand("git push origin main"))
	if c.Category != CategoryWrite {
		t.Fatalf("expected git push classified as write, got %+v", c)
	}
}

func TestParseCommandProgram(t *testing.T) {
	p := ParseCommand("uname -a")
	if p.Program != "uname" || len(p.Args) != 1 || p.Args[0] != "-a" {
		t.Fatalf("unexpected parse: %+v", p)
	}
}

func TestParseCommandDetectsPipe(t *testing.T) {
	p := ParseCommand("cat file.txt | grep foo")
	if !p.IsPiped {
		t.Fatal("expected pipe detected")
	}
}
