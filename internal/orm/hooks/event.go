package hooks

import (
	"context"
	"database/sql"

	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// ReadResult is what a read produced: one item, or a page of items and the total count
type ReadResult struct {
	Item  *schema.Record
	Items []*schema.Record
	Total int
}

// Event is handed to hooks. Only the boxes relevant to the hook being run are set:
//   - Values from beforeClean to afterClean
//   - Item from beforeValidate to afterPersist, and around removals
//   - Errors on afterValidate
//   - Result on beforeRead and afterRead; a result set on beforeRead skips the query
//   - Response on beforeRespond and afterRespond, the envelope about to be written
type Event struct {
	context.Context

	Name      Name
	Operation string
	Entity    *schema.EntityMetadata
	EntityID  interface{}

	Values   *Ref[map[string]interface{}]
	Item     *Ref[*schema.Record]
	Errors   *Ref[error]
	Result   *Ref[ReadResult]
	Response *Ref[*decorator.OrderedMap]

	db *sql.DB
	tx *sql.Tx
}

// NewEvent creates an event for an operation on entity
func NewEvent(ctx context.Context, operation string, entity *schema.EntityMetadata) *Event {
	return &Event{Context: ctx, Operation: operation, Entity: entity}
}

// WithDB attaches the database handle
func (e *Event) WithDB(db *sql.DB) *Event {
	e.db = db
	return e
}

// WithTransaction attaches the request transaction
func (e *Event) WithTransaction(tx *sql.Tx) *Event {
	e.tx = tx
	return e
}

// InTransaction returns a copy of the event bound to tx and its context. The
// copy starts with the boxes of e; e itself is left untouched, so queries still
// watching the request context never observe a write to it.
func (e *Event) InTransaction(ctx context.Context, tx *sql.Tx) *Event {
	c := *e
	c.Context = ctx
	c.tx = tx
	return &c
}

// Adopt takes the entity id and the payload boxes of a transaction copy made by
// InTransaction, keeping the context and the transaction of e
func (e *Event) Adopt(c *Event) {
	e.EntityID = c.EntityID
	e.Values = c.Values
	e.Item = c.Item
	e.Errors = c.Errors
	e.Result = c.Result
	e.Response = c.Response
}

// DB returns the database connection
func (e *Event) DB() *sql.DB {
	return e.db
}

// Tx returns the transaction (may be nil)
func (e *Event) Tx() *sql.Tx {
	return e.tx
}

// HasTransaction returns true if a transaction is active
func (e *Event) HasTransaction() bool {
	return e.tx != nil
}

// detach copies the event for an async hook: the request context and transaction
// are gone by the time it runs, and the payload is deep copied
func (e *Event) detach(ctx context.Context) *Event {
	c := &Event{
		Context:   ctx,
		Name:      e.Name,
		Operation: e.Operation,
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		db:        e.db,
	}
	if e.Values != nil {
		c.Values = NewRef(deepCopyMap(e.Values.Get()))
	}
	if e.Item != nil {
		c.Item = NewRef(deepCopyRecord(e.Item.Get()))
	}
	if e.Errors != nil {
		c.Errors = NewRef(e.Errors.Get())
	}
	if e.Result != nil {
		r := e.Result.Get()
		items := make([]*schema.Record, len(r.Items))
		for i, item := range r.Items {
			items[i] = deepCopyRecord(item)
		}
		c.Result = NewRef(ReadResult{Item: deepCopyRecord(r.Item), Items: items, Total: r.Total})
	}
	if e.Response != nil {
		c.Response = NewRef(e.Response.Get().Clone())
	}
	return c
}
