package mcpserver

// SyntaxGuide describes the Markdown subset the live preview renders, so
// that notes written by LLM clients display the same way as hand-written ones.
const SyntaxGuide = `# Draglass Live Preview Syntax

Notes are plain Markdown files. The editor keeps the text as the source of
truth and renders the constructs below in place; the raw markup reappears
when the cursor touches it.

## Rendered inline

- Headings: ` + "`# Title`" + ` through ` + "`###### Title`" + ` (one space after the hashes).
- Bold: ` + "`**text**`" + `. Italic: ` + "`*text*`" + ` or ` + "`_text_`" + `.
- Inline code: ` + "`` `code` ``" + `. Nothing inside is rendered.
- Tasks: ` + "`- [ ] open`" + ` and ` + "`- [x] done`" + ` become clickable checkboxes.

## Wikilinks

- ` + "`[[Note Name]]`" + ` links to the note whose file name (without ` + "`.md`" + `) matches,
  case-insensitively, anywhere in the vault.
- ` + "`[[Note Name|shown text]]`" + ` displays an alias.
- Following a link to a missing note offers to create ` + "`Note Name.md`" + `.

## Images

- ` + "`![alt](path/to/image.png)`" + ` and ` + "`![[image.png|alt]]`" + ` embed vault images.
- Paths are relative to the note's folder; a leading ` + "`/`" + ` starts at the vault root.
- ` + "`..`" + ` segments are rejected. Remote (` + "`http:`" + `, ` + "`data:`" + `) images are not loaded;
  use the ` + "`import_image`" + ` tool to copy them into the vault first.

## Diagrams

Fenced blocks tagged ` + "`mermaid`" + ` render as diagrams:

` + "```" + `markdown
` + "```mermaid" + `
graph TD
  A --> B
` + "```" + `
` + "```" + `

Other fenced code is shown verbatim and suppresses all inline rendering.

## Ignored paths

Files under dot-folders (such as ` + "`.git`" + ` or ` + "`.obsidian`" + `) and ` + "`node_modules`" + ` are
invisible to the editor and cannot be created through it.
`
