package document_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jacentio/paranoia/criteria"
	"github.com/jacentio/paranoia/document"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// --- Test Schemas ---

func addressSchema(paranoid bool) *document.Schema {
	s := &document.Schema{
		Name:     "address",
		Embedded: true,
		Fields:   []string{"street", "city", "kind"},
		Aliases:  map[string]string{"town": "city"},
	}
	if paranoid {
		s.Paranoia = &document.Paranoia{}
	}
	return s
}

func projectSchema(paranoid bool) *document.Schema {
	s := &document.Schema{
		Name:      "project",
		Table:     "projects",
		Fields:    []string{"title", "person_id"},
		ParentKey: "person_id",
	}
	if paranoid {
		s.Paranoia = &document.Paranoia{}
	}
	return s
}

func personSchema(addresses, projects *document.Schema, cb document.Callbacks) *document.Schema {
	return &document.Schema{
		Name:   "person",
		Table:  "people",
		Fields: []string{"name", "org"},
		Relations: []document.Association{
			{Name: "addresses", Child: addresses, Callbacks: cb},
			{Name: "projects", Child: projects, Callbacks: cb},
		},
	}
}

// fixture is a person with an attached recording persister.
type fixture struct {
	person    *document.Document
	addresses *document.EmbeddedMany
	persister *recordingPersister
	events    *[]string
}

func newFixture(paranoid, persisted bool, streets ...string) fixture {
	events := &[]string{}
	cb := document.CallbackFunc(func(_ context.Context, kind document.CallbackKind, doc *document.Document) error {
		name := "<nil>"
		if doc != nil {
			name = fmt.Sprint(doc.Get("street"))
		}
		*events = append(*events, kind.String()+":"+name)
		return nil
	})
	addrSchema := addressSchema(paranoid)
	schema := personSchema(addrSchema, projectSchema(paranoid), cb)

	var person *document.Document
	if persisted {
		person = document.Instantiate(schema, "p1", map[string]any{"name": "Ada"})
	} else {
		person = document.New(schema, map[string]any{"name": "Ada"})
	}
	p := &recordingPersister{}
	person.SetPersister(p)

	addresses := person.Embeds("addresses")
	for _, street := range streets {
		addr := document.New(addrSchema, map[string]any{"street": street})
		if err := addresses.Push(addr); err != nil {
			panic(err)
		}
	}
	if persisted {
		person.MarkPersisted(1)
	}
	return fixture{person: person, addresses: addresses, persister: p, events: events}
}

func (f fixture) street(name string) *document.Document {
	for _, d := range f.addresses.Unscoped() {
		if d.Get("street") == name {
			return d
		}
	}
	return nil
}

func streets(docs []*document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = fmt.Sprint(d.Get("street"))
	}
	return out
}

func indices(docs []*document.Document) []int {
	out := make([]int, len(docs))
	for i, d := range docs {
		out[i] = d.Index()
	}
	return out
}

// --- Recording Persister ---

type recordingPersister struct {
	calls []string
	fail  map[string]error
}

func (p *recordingPersister) record(op string, doc *document.Document) error {
	label := doc.ID
	if s, ok := doc.Get("street").(string); ok {
		label = s
	} else if s, ok := doc.Get("title").(string); ok {
		label = s
	}
	p.calls = append(p.calls, op+":"+label)
	if err := p.fail[op+":"+label]; err != nil {
		return err
	}
	return nil
}

func (p *recordingPersister) DeleteSuppressed(_ context.Context, doc *document.Document) error {
	if err := p.record("delete", doc); err != nil {
		return err
	}
	doc.MarkDeleted(fixedNow)
	doc.MarkDestroyed()
	return nil
}

func (p *recordingPersister) DestroySuppressed(_ context.Context, doc *document.Document) error {
	if err := p.record("destroy_suppressed", doc); err != nil {
		return err
	}
	doc.MarkDeleted(fixedNow)
	doc.MarkDestroyed()
	return nil
}

func (p *recordingPersister) RegisterAtomicPull(base, doc *document.Document) error {
	if err := p.record("pull", doc); err != nil {
		return err
	}
	base.AddAtomicPull(document.AtomicPull{Relation: doc.RelationName(), ID: doc.ID})
	return nil
}

func (p *recordingPersister) Destroy(_ context.Context, doc *document.Document) error {
	if err := p.record("destroy", doc); err != nil {
		return err
	}
	doc.MarkDeleted(fixedNow)
	doc.MarkDestroyed()
	return nil
}

// --- Recording Finder ---

type recordingFinder struct {
	seen   []criteria.Criteria
	exists bool
	err    error
}

func (f *recordingFinder) Exists(_ context.Context, c criteria.Criteria) (bool, error) {
	f.seen = append(f.seen, c)
	return f.exists, f.err
}
