package services

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openloop-dev/openloop/pkg/models"
)

// SessionExport is the full structured dump of one session.
type SessionExport struct {
	Format       string                      `json:"format"`
	Session      *models.Session             `json:"session"`
	Messages     []*models.Message           `json:"messages"`
	Turns        []*models.Turn              `json:"turns"`
	StepsByTurn  map[string][]*models.Step   `json:"steps_by_turn"`
	Events       []*models.Event             `json:"events"`
	FileChanges  []*models.FileChange        `json:"file_changes"`
	Terminal     []*models.TerminalChunk     `json:"terminal_chunks"`
	ContextItems []*models.ContextItem       `json:"context_items"`
	Permissions  []*models.PermissionRequest `json:"permission_requests"`
}

// exportFormat versions the export envelope for downstream consumers.
const exportFormat = "openloop.session_export.v1"

// ExportService assembles session exports from the entity services.
type ExportService struct {
	sessions    *SessionService
	turns       *TurnService
	events      *EventService
	files       *FileService
	terminal    *TerminalService
	contextSvc  *ContextService
	permissions *PermissionService
}

// NewExportService creates a new ExportService.
func NewExportService(sessions *SessionService, turns *TurnService, events *EventService,
	files *FileService, terminal *TerminalService, contextSvc *ContextService,
	permissions *PermissionService) *ExportService {
	return &ExportService{
		sessions:    sessions,
		turns:       turns,
		events:      events,
		files:       files,
		terminal:    terminal,
		contextSvc:  contextSvc,
		permissions: permissions,
	}
}

// Export collects every durable row owned by a session.
func (s *ExportService) Export(ctx context.Context, sessionID string) (*SessionExport, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	export := &SessionExport{
		Format:      exportFormat,
		Session:     sess,
		StepsByTurn: map[string][]*models.Step{},
	}

	if export.Messages, err = s.sessions.ListMessages(ctx, sessionID); err != nil {
		return nil, err
	}
	if export.Turns, err = s.turns.ListTurns(ctx, sessionID); err != nil {
		return nil, err
	}
	for _, turn := range export.Turns {
		steps, err := s.turns.ListSteps(ctx, turn.ID)
		if err != nil {
			return nil, err
		}
		export.StepsByTurn[turn.ID] = steps
	}
	// Full event log; page through in case the session is long.
	var sinceID int64
	for {
		page, err := s.events.SessionEventsSince(ctx, sessionID, sinceID, -1, 1000)
		if err != nil {
			return nil, err
		}
		export.Events = append(export.Events, page...)
		if len(page) < 1000 {
			break
		}
		sinceID = page[len(page)-1].ID
	}
	if export.FileChanges, err = s.files.ListFileChanges(ctx, sessionID); err != nil {
		return nil, err
	}
	if export.Terminal, err = s.terminal.List(ctx, sessionID); err != nil {
		return nil, err
	}
	if export.ContextItems, err = s.contextSvc.List(ctx, sessionID); err != nil {
		return nil, err
	}
	if export.Permissions, err = s.permissions.ListRequests(ctx, sessionID); err != nil {
		return nil, err
	}
	return export, nil
}

// ExportMarkdown renders a session as a readable transcript with a YAML
// front-matter header.
func (s *ExportService) ExportMarkdown(ctx context.Context, sessionID string) (string, error) {
	export, err := s.Export(ctx, sessionID)
	if err != nil {
		return "", err
	}

	front := map[string]any{
		"session_id": export.Session.ID,
		"title":      export.Session.Title,
		"created_at": export.Session.CreatedAt,
		"updated_at": export.Session.UpdatedAt,
		"turns":      len(export.Turns),
		"messages":   len(export.Messages),
	}
	frontBytes, err := yaml.Marshal(front)
	if err != nil {
		return "", fmt.Errorf("failed to render front matter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(frontBytes)
	b.WriteString("---\n\n")

	title := export.Session.Title
	if title == "" {
		title = export.Session.ID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	for _, msg := range export.Messages {
		switch msg.Role {
		case models.RoleUser:
			fmt.Fprintf(&b, "## User\n\n%s\n\n", msg.Content)
		case models.RoleAssistant:
			fmt.Fprintf(&b, "## Assistant\n\n%s\n\n", msg.Content)
		}
	}

	if len(export.FileChanges) > 0 {
		b.WriteString("## File changes\n\n")
		for _, fc := range export.FileChanges {
			fmt.Fprintf(&b, "### %s\n\n```diff\n%s\n```\n\n", fc.Path, strings.TrimRight(fc.UnifiedDiff, "\n"))
		}
	}

	if len(export.Terminal) > 0 {
		b.WriteString("## Terminal\n\n```\n")
		for _, tc := range export.Terminal {
			b.WriteString(tc.Text)
		}
		b.WriteString("\n```\n")
	}

	return b.String(), nil
}
