package bootimg

// Phase represents a stage of an unpack or repack run.
type Phase int

const (
	PhaseParse     Phase = iota // Header decoded, dialect known.
	PhaseComponent              // A single component has been dumped or embedded.
	PhaseWrite                  // Output assembled, fixing up sizes and hashes.
	PhaseDone                   // Run completed successfully.
)

// Event describes a single unpack/repack progress update.
type Event struct {
	Phase     Phase
	Component string // Component file name for PhaseComponent.
	Format    string // Compression format of the component as stored in the image.
	Size      int64  // Bytes embedded or dumped; total image size for PhaseDone.
}
