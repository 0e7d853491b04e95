package worktree

import (
	"os"
	"text/template"

	"github.com/0xPD33/hydra-tools/internal/herr"
)

// TemplateContext supplies the variables available to an env template,
// matching hydra-wt/src/template.rs::TemplateContext.
type TemplateContext struct {
	Port        uint16
	Worktree    string
	ProjectUUID string
	RepoRoot    string
}

// RenderEnv renders templatePath through text/template into outputPath.
// A missing template is a warning, not an error, matching template.rs's
// skip-with-warning behavior. text/template is used in place of tera
// (no Go port exists in the ecosystem) since the original's templates
// are flat {{ variable }} substitutions with no inheritance.
func RenderEnv(templatePath, outputPath string, ctx TemplateContext) (warning string, err error) {
	content, readErr := os.ReadFile(templatePath)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return "template " + templatePath + " not found, skipping env generation", nil
		}
		return "", herr.Wrap(herr.SubprocessFailed, "read template "+templatePath, readErr)
	}

	tmpl, err := template.New("env").Delims("{{", "}}").Parse(string(content))
	if err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "parse template "+templatePath, err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "create "+outputPath, err)
	}
	defer f.Close()

	data := map[string]any{
		"port":         ctx.Port,
		"worktree":     ctx.Worktree,
		"project_uuid": ctx.ProjectUUID,
		"repo_root":    ctx.RepoRoot,
	}
	if err := tmpl.Execute(f, data); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "render template "+templatePath, err)
	}
	return "", nil
}
