package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

// DB abstracts the pool operations PgStore needs. Satisfied by
// *pgxpool.Pool in production and pgxmock.PgxPoolIface in tests — same
// split as the teacher's services/storage/storage.go.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by both pgx.Tx and DB, allowing hydration helpers
// to run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore implements Storage against the schema described in
// spec.md §6: workflow_specs, course_specs, node_specs,
// node_branches, transition_specs for the spec tree; workflow_instances,
// course_instances, node_instances for the instance tree.
type PgStore struct {
	DB DB
}

// NewPgStore wraps an established pgx pool.
func NewPgStore(pool *pgxpool.Pool) (*PgStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("storage: pool cannot be nil")
	}
	return &PgStore{DB: pool}, nil
}

// NewPgStoreWithDB wraps an arbitrary DB implementation — used by tests
// to inject a pgxmock pool.
func NewPgStoreWithDB(db DB) (*PgStore, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: db cannot be nil")
	}
	return &PgStore{DB: db}, nil
}

func (s *PgStore) GetWorkflowSpec(ctx context.Context, code string) (*spec.WorkflowSpec, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	ws, err := loadWorkflowSpecByCode(timeoutCtx, tx, code)
	if err != nil {
		return nil, err
	}
	return ws, tx.Commit(timeoutCtx)
}

func (s *PgStore) DeleteWorkflowSpec(ctx context.Context, code string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	var wfID uuid.UUID
	if err := tx.QueryRow(timeoutCtx, `SELECT id FROM workflow_specs WHERE code = $1`, code).Scan(&wfID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var refCount int
	if err := tx.QueryRow(timeoutCtx, `SELECT count(*) FROM workflow_instances WHERE workflow_spec_id = $1`, wfID).Scan(&refCount); err != nil {
		return err
	}
	if refCount > 0 {
		return ErrReferenced
	}

	if _, err := tx.Exec(timeoutCtx, `DELETE FROM workflow_specs WHERE id = $1`, wfID); err != nil {
		return fmt.Errorf("delete workflow spec: %w", err)
	}
	return tx.Commit(timeoutCtx)
}

func (s *PgStore) GetWorkflowInstance(ctx context.Context, id uuid.UUID) (*instance.WorkflowInstance, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	wi, err := loadWorkflowInstance(timeoutCtx, tx, id)
	if err != nil {
		return nil, err
	}
	return wi, tx.Commit(timeoutCtx)
}

func (s *PgStore) GetWorkflowInstanceByDocument(ctx context.Context, documentType, objectID string) (*instance.WorkflowInstance, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var id uuid.UUID
	err := s.DB.QueryRow(timeoutCtx, `
        SELECT id FROM workflow_instances WHERE document_type = $1 AND object_id = $2`,
		documentType, objectID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetWorkflowInstance(ctx, id)
}

func (s *PgStore) DeleteWorkflowInstance(ctx context.Context, id uuid.UUID) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	// node_instances/course_instances cascade via FK ON DELETE CASCADE
	// in the schema migration (spec.md §3 "deletion of a WorkflowInstance
	// cascades").
	tag, err := tx.Exec(timeoutCtx, `DELETE FROM workflow_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(timeoutCtx)
}

// WithTx opens a single pgx transaction for the whole externally-initiated
// operation (Start/Advance/Cancel/Join), matching spec.md §5's "each
// executes inside a single persistence transaction" requirement — the
// same shape as the teacher's UpsertWorkflow/PublishWorkflow, generalized
// to an arbitrary sequence of writes instead of one fixed upsert.
func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pgxTx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgxTx.Rollback(timeoutCtx)

	if err := fn(timeoutCtx, &pgTx{tx: pgxTx}); err != nil {
		return err
	}
	return pgxTx.Commit(timeoutCtx)
}

type pgTx struct {
	tx pgx.Tx
}

// InstallWorkflowSpec writes the whole spec tree: workflow_specs, then
// course_specs (two passes so branch references can point forward to
// courses not yet inserted — mirrors the teacher's two-pass
// node-library-ID lookup in UpsertWorkflow), then node_specs,
// node_branches, and transition_specs.
func (t *pgTx) InstallWorkflowSpec(ctx context.Context, ws *spec.WorkflowSpec) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workflow_specs WHERE code = $1)`, ws.Code).Scan(&exists); err != nil {
		return fmt.Errorf("check existing workflow code: %w", err)
	}
	if exists {
		return ErrDuplicateCode
	}

	if ws.ID == uuid.Nil {
		ws.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO workflow_specs (id, code, name, description, create_permission, cancel_permission, document_type)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ws.ID, ws.Code, ws.Name, ws.Description, ws.CreatePermission, ws.CancelPermission, ws.DocumentType)
	if err != nil {
		return fmt.Errorf("insert workflow spec: %w", err)
	}

	for _, c := range ws.Courses {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		_, err := t.tx.Exec(ctx, `
            INSERT INTO course_specs (id, workflow_spec_id, code, depth, cancel_permission)
            VALUES ($1, $2, $3, $4, $5)`,
			c.ID, ws.ID, c.Code, c.Depth, c.CancelPermission)
		if err != nil {
			return fmt.Errorf("insert course spec %q: %w", c.Code, err)
		}
	}

	for _, c := range ws.Courses {
		for _, n := range c.Nodes {
			if n.ID == uuid.Nil {
				n.ID = uuid.New()
			}
			_, err := t.tx.Exec(ctx, `
                INSERT INTO node_specs (id, course_spec_id, type, code, name, landing_handler, exit_value, joiner, execute_permission)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				n.ID, c.ID, string(n.Type), n.Code, n.Name, n.LandingHandler, n.ExitValue, n.Joiner, n.ExecutePermission)
			if err != nil {
				return fmt.Errorf("insert node spec %q: %w", n.Code, err)
			}
			for _, b := range n.Branches {
				if _, err := t.tx.Exec(ctx, `
                    INSERT INTO node_branches (node_spec_id, branch_course_spec_id)
                    VALUES ($1, $2)`, n.ID, b.ID); err != nil {
					return fmt.Errorf("insert node branch %q -> %q: %w", n.Code, b.Code, err)
				}
			}
		}
	}

	for _, c := range ws.Courses {
		for _, tr := range c.Transitions {
			if tr.ID == uuid.Nil {
				tr.ID = uuid.New()
			}
			_, err := t.tx.Exec(ctx, `
                INSERT INTO transition_specs (id, course_spec_id, origin_node_id, destination_node_id, action_name, permission, condition, priority)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				tr.ID, c.ID, tr.Origin.ID, tr.Destination.ID, tr.ActionName, tr.Permission, tr.Condition, tr.Priority)
			if err != nil {
				return fmt.Errorf("insert transition %s->%s: %w", tr.Origin.Code, tr.Destination.Code, err)
			}
		}
	}

	return nil
}

func (t *pgTx) CreateWorkflowInstance(ctx context.Context, wi *instance.WorkflowInstance) error {
	if wi.ID == uuid.Nil {
		wi.ID = uuid.New()
	}
	if wi.CreatedAt.IsZero() {
		wi.CreatedAt = time.Now()
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO workflow_instances (id, workflow_spec_id, document_type, object_id, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		wi.ID, wi.WorkflowSpec.ID, wi.DocumentType, wi.ObjectID, wi.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workflow instance: %w", err)
	}
	for _, c := range wi.Courses {
		if err := t.CreateCourseInstance(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) CreateCourseInstance(ctx context.Context, ci *instance.CourseInstance) error {
	if ci.ID == uuid.Nil {
		ci.ID = uuid.New()
	}
	var parentNodeInstanceID any
	if ci.Parent != nil {
		parentNodeInstanceID = ci.Parent.ID
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO course_instances (id, workflow_instance_id, course_spec_id, parent_node_instance_id, term_level)
        VALUES ($1, $2, $3, $4, $5)`,
		ci.ID, ci.WorkflowInstance.ID, ci.CourseSpec.ID, parentNodeInstanceID, ci.TermLevel)
	if err != nil {
		return fmt.Errorf("insert course instance: %w", err)
	}
	ci.WorkflowInstance.Courses = append(ci.WorkflowInstance.Courses, ci)
	return nil
}

func (t *pgTx) CreateNodeInstance(ctx context.Context, ni *instance.NodeInstance) error {
	if ni.ID == uuid.Nil {
		ni.ID = uuid.New()
	}
	if ni.EnteredAt.IsZero() {
		ni.EnteredAt = time.Now()
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM node_instances WHERE course_instance_id = $1`, ni.Course.ID); err != nil {
		return fmt.Errorf("delete prior node instance: %w", err)
	}
	_, err := t.tx.Exec(ctx, `
        INSERT INTO node_instances (id, course_instance_id, node_spec_id, entered_at)
        VALUES ($1, $2, $3, $4)`,
		ni.ID, ni.Course.ID, ni.NodeSpec.ID, ni.EnteredAt)
	if err != nil {
		return fmt.Errorf("insert node instance: %w", err)
	}
	ni.Course.Node = ni
	return nil
}

func (t *pgTx) DeleteNodeInstance(ctx context.Context, ci *instance.CourseInstance) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM node_instances WHERE course_instance_id = $1`, ci.ID); err != nil {
		return fmt.Errorf("delete node instance: %w", err)
	}
	ci.Node = nil
	return nil
}

func (t *pgTx) SetTermLevel(ctx context.Context, ci *instance.CourseInstance, level int) error {
	if _, err := t.tx.Exec(ctx, `UPDATE course_instances SET term_level = $1 WHERE id = $2`, level, ci.ID); err != nil {
		return fmt.Errorf("set term level: %w", err)
	}
	l := level
	ci.TermLevel = &l
	return nil
}

// loadWorkflowSpecByCode hydrates a full spec tree: workflow_specs row,
// then course_specs, node_specs (+ node_branches), transition_specs,
// joined back together the way the teacher's hydrateNodes/hydrateEdges
// join instance rows to their library blueprint.
func loadWorkflowSpecByCode(ctx context.Context, q querier, code string) (*spec.WorkflowSpec, error) {
	ws := &spec.WorkflowSpec{Code: code}
	err := q.QueryRow(ctx, `
        SELECT id, name, description, create_permission, cancel_permission, document_type
        FROM workflow_specs WHERE code = $1`, code).
		Scan(&ws.ID, &ws.Name, &ws.Description, &ws.CreatePermission, &ws.CancelPermission, &ws.DocumentType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	courseRows, err := q.Query(ctx, `
        SELECT id, code, depth, cancel_permission FROM course_specs WHERE workflow_spec_id = $1`, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("query course specs: %w", err)
	}
	coursesByID := make(map[uuid.UUID]*spec.CourseSpec)
	for courseRows.Next() {
		c := &spec.CourseSpec{WorkflowSpec: ws}
		if err := courseRows.Scan(&c.ID, &c.Code, &c.Depth, &c.CancelPermission); err != nil {
			courseRows.Close()
			return nil, err
		}
		coursesByID[c.ID] = c
		ws.Courses = append(ws.Courses, c)
	}
	courseRows.Close()
	if err := courseRows.Err(); err != nil {
		return nil, err
	}

	nodesByID := make(map[uuid.UUID]*spec.NodeSpec)
	for _, c := range ws.Courses {
		nodeRows, err := q.Query(ctx, `
            SELECT id, type, code, name, landing_handler, exit_value, joiner, execute_permission
            FROM node_specs WHERE course_spec_id = $1`, c.ID)
		if err != nil {
			return nil, fmt.Errorf("query node specs: %w", err)
		}
		for nodeRows.Next() {
			n := &spec.NodeSpec{Course: c}
			var typ string
			if err := nodeRows.Scan(&n.ID, &typ, &n.Code, &n.Name, &n.LandingHandler, &n.ExitValue, &n.Joiner, &n.ExecutePermission); err != nil {
				nodeRows.Close()
				return nil, err
			}
			n.Type = spec.NodeType(typ)
			nodesByID[n.ID] = n
			c.Nodes = append(c.Nodes, n)
		}
		nodeRows.Close()
		if err := nodeRows.Err(); err != nil {
			return nil, err
		}
	}

	branchRows, err := q.Query(ctx, `
        SELECT node_spec_id, branch_course_spec_id FROM node_branches
        WHERE node_spec_id = ANY($1)`, nodeSpecIDs(nodesByID))
	if err != nil {
		return nil, fmt.Errorf("query node branches: %w", err)
	}
	for branchRows.Next() {
		var nodeID, branchID uuid.UUID
		if err := branchRows.Scan(&nodeID, &branchID); err != nil {
			branchRows.Close()
			return nil, err
		}
		if n, ok := nodesByID[nodeID]; ok {
			if b, ok := coursesByID[branchID]; ok {
				n.Branches = append(n.Branches, b)
			}
		}
	}
	branchRows.Close()
	if err := branchRows.Err(); err != nil {
		return nil, err
	}

	for _, c := range ws.Courses {
		trRows, err := q.Query(ctx, `
            SELECT id, origin_node_id, destination_node_id, action_name, permission, condition, priority
            FROM transition_specs WHERE course_spec_id = $1`, c.ID)
		if err != nil {
			return nil, fmt.Errorf("query transition specs: %w", err)
		}
		for trRows.Next() {
			tr := &spec.TransitionSpec{Course: c}
			var originID, destID uuid.UUID
			if err := trRows.Scan(&tr.ID, &originID, &destID, &tr.ActionName, &tr.Permission, &tr.Condition, &tr.Priority); err != nil {
				trRows.Close()
				return nil, err
			}
			tr.Origin = nodesByID[originID]
			tr.Destination = nodesByID[destID]
			c.Transitions = append(c.Transitions, tr)
		}
		trRows.Close()
		if err := trRows.Err(); err != nil {
			return nil, err
		}
	}

	return ws, nil
}

func nodeSpecIDs(m map[uuid.UUID]*spec.NodeSpec) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// loadWorkflowInstance hydrates a full instance tree: the workflow
// instance row, then every course_instance belonging to it, each joined
// to its (at most one) node_instance, with SPLIT node instances' branch
// course_instances linked back via parent_node_instance_id.
func loadWorkflowInstance(ctx context.Context, q querier, id uuid.UUID) (*instance.WorkflowInstance, error) {
	wi := &instance.WorkflowInstance{ID: id}
	var wfSpecID uuid.UUID
	err := q.QueryRow(ctx, `
        SELECT workflow_spec_id, document_type, object_id, created_at
        FROM workflow_instances WHERE id = $1`, id).
		Scan(&wfSpecID, &wi.DocumentType, &wi.ObjectID, &wi.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var wfCode string
	if err := q.QueryRow(ctx, `SELECT code FROM workflow_specs WHERE id = $1`, wfSpecID).Scan(&wfCode); err != nil {
		return nil, fmt.Errorf("resolve workflow spec code: %w", err)
	}
	ws, err := loadWorkflowSpecByCode(ctx, q, wfCode)
	if err != nil {
		return nil, fmt.Errorf("load workflow spec for instance: %w", err)
	}
	wi.WorkflowSpec = ws

	courseSpecsByID := make(map[uuid.UUID]*spec.CourseSpec)
	for _, c := range ws.Courses {
		courseSpecsByID[c.ID] = c
	}

	rows, err := q.Query(ctx, `
        SELECT id, course_spec_id, parent_node_instance_id, term_level
        FROM course_instances WHERE workflow_instance_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query course instances: %w", err)
	}
	type rawCourse struct {
		ci           *instance.CourseInstance
		parentNodeID *uuid.UUID
	}
	var raws []rawCourse
	for rows.Next() {
		ci := &instance.CourseInstance{WorkflowInstance: wi}
		var courseSpecID uuid.UUID
		var parentNodeID *uuid.UUID
		if err := rows.Scan(&ci.ID, &courseSpecID, &parentNodeID, &ci.TermLevel); err != nil {
			rows.Close()
			return nil, err
		}
		ci.CourseSpec = courseSpecsByID[courseSpecID]
		wi.Courses = append(wi.Courses, ci)
		raws = append(raws, rawCourse{ci: ci, parentNodeID: parentNodeID})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nodeInstancesByID := make(map[uuid.UUID]*instance.NodeInstance)
	nodeSpecsByID := make(map[uuid.UUID]*spec.NodeSpec)
	for _, c := range ws.Courses {
		for _, n := range c.Nodes {
			nodeSpecsByID[n.ID] = n
		}
	}
	for _, rc := range raws {
		var niID, nodeSpecID uuid.UUID
		var enteredAt time.Time
		err := q.QueryRow(ctx, `
            SELECT id, node_spec_id, entered_at FROM node_instances WHERE course_instance_id = $1`, rc.ci.ID).
			Scan(&niID, &nodeSpecID, &enteredAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue // pending course, no current node
			}
			return nil, err
		}
		ni := &instance.NodeInstance{ID: niID, Course: rc.ci, NodeSpec: nodeSpecsByID[nodeSpecID], EnteredAt: enteredAt}
		nodeInstancesByID[ni.ID] = ni
		rc.ci.Node = ni
	}

	for _, rc := range raws {
		if rc.parentNodeID != nil {
			rc.ci.Parent = nodeInstancesByID[*rc.parentNodeID]
		}
	}
	for _, ni := range nodeInstancesByID {
		for _, rc := range raws {
			if rc.ci.Parent == ni {
				ni.Branches = append(ni.Branches, rc.ci)
			}
		}
	}

	return wi, nil
}
