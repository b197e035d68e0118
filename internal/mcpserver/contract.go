package mcpserver

// DocumentFormatContract describes the local document format that LLM
// consumers should follow when writing documents that will be put.
const DocumentFormatContract = `# md2backlog Document Format Contract

Every local document mirrors one Backlog issue and MUST follow this structure.

## Structure

` + "```" + `markdown
---
title: Human-readable title      # REQUIRED – becomes the issue summary
docId: PROJ-12                   # SET BY THE TOOL – absent until the first put
url: https://space.backlog.com/view/PROJ-12   # SET BY THE TOOL
updated: "2024-05-01T10:00:00Z"  # SET BY THE TOOL
---

Body text in standard Markdown (CommonMark + GFM tables, task lists, strikethrough).
` + "```" + `

## Rules

1. **YAML front matter is mandatory** and ` + "`" + `title` + "`" + ` must be non-empty.
2. **Never invent ` + "`" + `docId` + "`" + `.** A document without one is created on the next put;
   the tool writes ` + "`" + `docId` + "`" + `, ` + "`" + `url` + "`" + ` and ` + "`" + `updated` + "`" + ` back into the header.
3. **Other header keys are kept** across put and fetch.
4. **Images** use paths relative to the document: ` + "`" + `![diagram](img/flow.png)` + "`" + `.
   Existing files are uploaded as attachments; missing files are left as written.
5. **Links to other documents** use relative paths: ` + "`" + `[design](../design.md)` + "`" + `.
   The target must exist and already carry a ` + "`" + `docId` + "`" + `, otherwise the put fails.
6. **Links to issues** may also be written as ` + "`" + `PROJ-12` + "`" + ` or the full view URL.
7. **Reference definitions** pointing at local files (` + "`" + `[logo]: img/logo.png` + "`" + `) are
   attachments too; they are not stored in the remote body.
8. **Formatting** is normalized on put: ` + "`" + `*` + "`" + ` bullets, fenced code blocks.

## Example

` + "```" + `markdown
---
title: Release checklist
---

# Release checklist

![pipeline](img/pipeline.png)

* [x] tag the release
* [ ] update [the runbook](ops/runbook.md)
* see PROJ-7 for the last incident
` + "```" + `
`
