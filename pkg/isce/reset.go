package isce

import (
	"github.com/isceproc/isceproc/pkg/template"
)

const resetHeader = "------ Copy and paste the following the command to reset the process direction ----\n"

const resetTops = `rm -r ESD/ coarse_interferograms/ interferograms/ geom_reference/ merged/interferograms/*/fine* merged/interferograms/*/filt_fine.int
`

const resetStripmap = `rm -r baselines/ configs/ coregSLC/ geom_reference/ Igrams/ merged/ offsets/ refineSecondaryTiming/ run_* SLC/ referenceShelve/
cd download;  rm -rf 20* AL*;  mv ARCHIVED_FILES/* .;  cd ..
`

// ResetInstructions returns the shell commands that bring a processing
// directory back to its state before the stack was generated. They are
// meant to be reviewed and run by the user.
func ResetInstructions(processor string) string {
	switch processor {
	case template.ProcessorTops:
		return resetHeader + resetTops
	case template.ProcessorStripmap:
		return resetHeader + resetStripmap
	default:
		return resetHeader
	}
}
