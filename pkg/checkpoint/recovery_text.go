// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"fmt"
	"strings"
)

// FormatRecoveryText renders a RecoveryContext as natural-language text
// with stable section headings, suitable for direct injection into an
// LLM prompt on session resume.
func FormatRecoveryText(missionSummary string, rc RecoveryContext) string {
	var b strings.Builder

	b.WriteString("## Recovery Context\n\n")
	fmt.Fprintf(&b, "**Mission**: %s\n\n", missionSummary)
	if rc.LastAction != "" {
		fmt.Fprintf(&b, "Last action: %s\n\n", rc.LastAction)
	}

	b.WriteString("### Next Steps\n")
	writeList(&b, rc.NextSteps)

	b.WriteString("\n### Blockers\n")
	writeList(&b, rc.Blockers)

	b.WriteString("\n### Files Modified\n")
	writeList(&b, rc.FilesModified)

	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("- none\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}
