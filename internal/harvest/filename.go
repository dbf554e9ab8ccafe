package harvest

import "strings"

// unsafe characters stripped from filenames, beyond the path separators.
const unsafeChars = `<>:"|?*`

// SafeFilename derives the deterministic text-file stem for a decision:
// the case number with filesystem-hostile characters replaced, suffixed with
// the first 8 characters of the record id. Stable across reruns so that
// reprocessing overwrites rather than duplicates.
func SafeFilename(d Decision) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(d.CaseNumber)
	for _, c := range unsafeChars {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	id := d.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return name + "_" + id
}
