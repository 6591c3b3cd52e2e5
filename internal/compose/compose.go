// Package compose builds the consolidated message for one recipient batch.
package compose

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"notifyqueue/internal/model"
)

const (
	DefaultOrganization = "Central de Autorizações"
	DefaultTimezone     = "America/Sao_Paulo"

	missingReference = "pendente"
	timestampLayout  = "02/01/2006 15:04"
)

// Compositor is pure: the same inputs always produce the same text.
type Compositor struct {
	organization string
	location     *time.Location
}

// NewCompositor loads the zone used for the "Enviado em" timestamp.
func NewCompositor(organization, timezone string) (*Compositor, error) {
	if strings.TrimSpace(organization) == "" {
		organization = DefaultOrganization
	}
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid compose timezone %q: %w", timezone, err)
	}
	return &Compositor{organization: organization, location: loc}, nil
}

// Compose renders the batch in the given order.
func (c *Compositor) Compose(displayName string, batch []model.NotificationRequest, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s*\n", c.organization)
	if name := strings.TrimSpace(displayName); name != "" {
		fmt.Fprintf(&b, "Olá, %s.\n", name)
	}
	b.WriteString("Atualizações das suas solicitações:\n")

	for i, n := range batch {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%d. Paciente: %s\n", i+1, n.SubjectName)
		fmt.Fprintf(&b, "   Autorização: %s\n", reference(n.ReferenceCode))
		fmt.Fprintf(&b, "   Status: %s\n", n.StatusLabel)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Total: %d\n", len(batch))
	fmt.Fprintf(&b, "Enviado em %s", now.In(c.location).Format(timestampLayout))
	return b.String()
}

func reference(code *string) string {
	if code == nil || strings.TrimSpace(*code) == "" {
		return missingReference
	}
	return strings.TrimSpace(*code)
}
