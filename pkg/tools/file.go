package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/steadyops/steward/pkg/models"
)

// fileReadLimit bounds file content handed back to the model.
const fileReadLimit = 50000

// FileSandbox is the sandbox surface the file tool needs.
type FileSandbox interface {
	FileRead(ctx context.Context, filePath string, startLine, endLine int) (string, error)
	FileWrite(ctx context.Context, filePath, content string, appendMode bool) error
	FileExists(ctx context.Context, filePath string) (bool, error)
	FileFind(ctx context.Context, dir, glob string) ([]string, error)
}

// FileTool reads and edits files inside the task's sandbox.
type FileTool struct {
	sandbox FileSandbox
}

// NewFileTool wires the file functions to a sandbox.
func NewFileTool(sb FileSandbox) *FileTool {
	return &FileTool{sandbox: sb}
}

type fileReadParams struct {
	File      string `json:"file" jsonschema:"description=Absolute path of the file to read"`
	StartLine int    `json:"start_line,omitempty" jsonschema:"description=First line to read (1-based)"`
	EndLine   int    `json:"end_line,omitempty" jsonschema:"description=Last line to read (inclusive)"`
}

type fileWriteParams struct {
	File    string `json:"file" jsonschema:"description=Absolute path of the file to write"`
	Content string `json:"content" jsonschema:"description=Full text content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append to the file instead of overwriting"`
}

type fileStrReplaceParams struct {
	File   string `json:"file" jsonschema:"description=Absolute path of the file to edit"`
	OldStr string `json:"old_str" jsonschema:"description=Exact text to replace; must appear in the file"`
	NewStr string `json:"new_str" jsonschema:"description=Replacement text"`
}

type fileFindInContentParams struct {
	File  string `json:"file" jsonschema:"description=Absolute path of the file to search"`
	Regex string `json:"regex" jsonschema:"description=Regular expression to match against file lines"`
}

type fileFindByNameParams struct {
	Path string `json:"path" jsonschema:"description=Directory to search under"`
	Glob string `json:"glob" jsonschema:"description=Filename glob pattern such as *.log"`
}

func (t *FileTool) Functions() []*Function {
	return []*Function{
		{
			Tool:        "file",
			Name:        "file_read",
			Description: "Read a file from the sandbox filesystem, optionally bounded to a line range.",
			Parameters:  schemaFor(&fileReadParams{}),
			Handler:     t.read,
		},
		{
			Tool:        "file",
			Name:        "file_write",
			Description: "Write or append text to a file in the sandbox, creating parent directories as needed.",
			Parameters:  schemaFor(&fileWriteParams{}),
			Handler:     t.write,
		},
		{
			Tool:        "file",
			Name:        "file_str_replace",
			Description: "Replace every occurrence of an exact string in a file.",
			Parameters:  schemaFor(&fileStrReplaceParams{}),
			Handler:     t.strReplace,
		},
		{
			Tool:        "file",
			Name:        "file_find_in_content",
			Description: "Search a file's lines with a regular expression and return the matching lines with line numbers.",
			Parameters:  schemaFor(&fileFindInContentParams{}),
			Handler:     t.findInContent,
		},
		{
			Tool:        "file",
			Name:        "file_find_by_name",
			Description: "Find files under a directory whose names match a glob pattern.",
			Parameters:  schemaFor(&fileFindByNameParams{}),
			Handler:     t.findByName,
		},
	}
}

func (t *FileTool) read(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p fileReadParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	content, err := t.sandbox.FileRead(ctx, p.File, p.StartLine, p.EndLine)
	if err != nil {
		return nil, err
	}
	if len(content) > fileReadLimit {
		content = content[:fileReadLimit] + "\n... (truncated)"
	}
	return models.OkData(content, map[string]any{"file": p.File, "content": content}), nil
}

func (t *FileTool) write(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p fileWriteParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if err := t.sandbox.FileWrite(ctx, p.File, p.Content, p.Append); err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("wrote %d bytes to %s", len(p.Content), p.File),
		map[string]any{"file": p.File}), nil
}

func (t *FileTool) strReplace(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p fileStrReplaceParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	if p.OldStr == "" {
		return models.Fail("old_str must not be empty"), nil
	}
	content, err := t.sandbox.FileRead(ctx, p.File, 0, 0)
	if err != nil {
		return nil, err
	}
	count := strings.Count(content, p.OldStr)
	if count == 0 {
		return models.Fail(fmt.Sprintf("old_str not found in %s", p.File)), nil
	}
	replaced := strings.ReplaceAll(content, p.OldStr, p.NewStr)
	if err := t.sandbox.FileWrite(ctx, p.File, replaced, false); err != nil {
		return nil, err
	}
	return models.OkData(fmt.Sprintf("replaced %d occurrence(s) in %s", count, p.File),
		map[string]any{"file": p.File, "replacements": count}), nil
}

func (t *FileTool) findInContent(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p fileFindInContentParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	re, err := regexp.Compile(p.Regex)
	if err != nil {
		return models.Fail(fmt.Sprintf("invalid regex: %s", err)), nil
	}
	content, err := t.sandbox.FileRead(ctx, p.File, 0, 0)
	if err != nil {
		return nil, err
	}

	var matches []string
	for i, line := range strings.Split(content, "\n") {
		if re.MatchString(line) {
			matches = append(matches, fmt.Sprintf("%d: %s", i+1, line))
		}
	}
	if len(matches) == 0 {
		return models.Ok(fmt.Sprintf("no matches for %q in %s", p.Regex, p.File)), nil
	}
	return models.OkData(strings.Join(matches, "\n"),
		map[string]any{"file": p.File, "matches": len(matches)}), nil
}

func (t *FileTool) findByName(ctx context.Context, call Call) (*models.ToolResult, error) {
	var p fileFindByNameParams
	if err := decodeArgs(call.Arguments, &p); err != nil {
		return nil, err
	}
	files, err := t.sandbox.FileFind(ctx, p.Path, p.Glob)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return models.Ok(fmt.Sprintf("no files matching %q under %s", p.Glob, p.Path)), nil
	}
	return models.OkData(strings.Join(files, "\n"), map[string]any{"files": files}), nil
}
