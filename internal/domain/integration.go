package domain

// MergeResult reports how task branches were merged into a temporary
// integration branch
type MergeResult struct {
	TempBranch string
	BaseSHA    string   // mainline head the temp branch was cut from
	Merged     []string // branches merged cleanly
	Conflicts  []string // branches excluded because they did not merge
}

// FastForwardResult is the outcome of advancing the mainline to an
// integration branch. Status selects which of the other fields are set.
type FastForwardResult struct {
	Status      FastForwardStatus
	Head        string // new mainline head when fast-forwarded
	Reason      string
	Message     string
	CurrentHead string
	TargetRef   string
}

// CommandResult is the captured outcome of a subprocess. A non-zero exit code is
// not an error.
type CommandResult struct {
	Stdout   string
	Stderr   string
	Combined string // stdout and stderr interleaved in write order
	ExitCode int
	TimedOut bool
}

// Output returns the interleaved output when the runner captured it, and
// stdout followed by stderr otherwise
func (r CommandResult) Output() string {
	if r.Combined != "" {
		return r.Combined
	}
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Passed reports a zero exit code
func (r CommandResult) Passed() bool {
	return r.ExitCode == 0 && !r.TimedOut
}
