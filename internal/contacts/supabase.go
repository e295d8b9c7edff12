package contacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// SupabaseDirectory looks contacts up in a PostgREST table with columns
// name, relationship, phone, whatsapp and email.
type SupabaseDirectory struct {
	client *supabase.Client
	table  string
}

func NewSupabase(client *supabase.Client, table string) *SupabaseDirectory {
	if table == "" {
		table = "contacts"
	}
	return &SupabaseDirectory{client: client, table: table}
}

func (d *SupabaseDirectory) Lookup(ctx context.Context, name string) (Contact, error) {
	if err := ctx.Err(); err != nil {
		return Contact{}, err
	}
	term := filterTerm(name)
	if term == "" {
		return Contact{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	var rows []Contact
	_, err := d.client.From(d.table).
		Select("name,relationship,phone,whatsapp,email", "", false).
		Or(fmt.Sprintf("name.ilike.%s,relationship.ilike.%s", term, term), "").
		Limit(5, "").
		ExecuteTo(&rows)
	if err != nil {
		return Contact{}, fmt.Errorf("query contacts: %w", err)
	}
	for _, c := range rows {
		if c.Matches(name) {
			return c, nil
		}
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	return Contact{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// filterTerm strips characters that carry meaning in a PostgREST or() filter.
func filterTerm(name string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case ',', '(', ')', '*', '%', '"':
			return -1
		}
		return r
	}, name))
}
