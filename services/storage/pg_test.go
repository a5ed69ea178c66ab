package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/flowkeeper/enginecore/services/spec"
)

var testWorkflowID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

func TestPgStoreGetWorkflowSpec(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		checkWs   func(t *testing.T, ws *spec.WorkflowSpec)
	}{
		{
			name: "success returns hydrated spec with one linear course",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT id, name, description").
					WithArgs("onboarding").
					WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "create_permission", "cancel_permission", "document_type"}).
						AddRow(testWorkflowID, "Onboarding", "", "", "", "account"))

				courseID := uuid.New()
				mock.ExpectQuery("SELECT id, code, depth, cancel_permission").
					WithArgs(testWorkflowID).
					WillReturnRows(pgxmock.NewRows([]string{"id", "code", "depth", "cancel_permission"}).
						AddRow(courseID, "", 0, ""))

				enterID, inputID := uuid.New(), uuid.New()
				mock.ExpectQuery("SELECT id, type, code, name").
					WithArgs(courseID).
					WillReturnRows(pgxmock.NewRows([]string{"id", "type", "code", "name", "landing_handler", "exit_value", "joiner", "execute_permission"}).
						AddRow(enterID, "ENTER", "enter", "", "", nil, "", "").
						AddRow(inputID, "INPUT", "input", "", "", nil, "", "p1"))

				mock.ExpectQuery("SELECT node_spec_id, branch_course_spec_id").
					WillReturnRows(pgxmock.NewRows([]string{"node_spec_id", "branch_course_spec_id"}))

				mock.ExpectQuery("SELECT id, origin_node_id, destination_node_id").
					WithArgs(courseID).
					WillReturnRows(pgxmock.NewRows([]string{"id", "origin_node_id", "destination_node_id", "action_name", "permission", "condition", "priority"}).
						AddRow(uuid.New(), enterID, inputID, "", "", "", nil))

				mock.ExpectCommit()
			},
			checkWs: func(t *testing.T, ws *spec.WorkflowSpec) {
				t.Helper()
				if ws.Code != "onboarding" {
					t.Errorf("expected code %q, got %q", "onboarding", ws.Code)
				}
				if len(ws.Courses) != 1 {
					t.Fatalf("expected 1 course, got %d", len(ws.Courses))
				}
				c := ws.Courses[0]
				if len(c.Nodes) != 2 {
					t.Fatalf("expected 2 nodes, got %d", len(c.Nodes))
				}
				if len(c.Transitions) != 1 {
					t.Fatalf("expected 1 transition, got %d", len(c.Transitions))
				}
				if c.Transitions[0].Origin.Code != "enter" || c.Transitions[0].Destination.Code != "input" {
					t.Errorf("unexpected transition endpoints: %+v", c.Transitions[0])
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatalf("failed to create mock pool: %v", err)
			}
			defer mock.Close()

			tc.setupMock(mock)

			store, err := NewPgStoreWithDB(mock)
			if err != nil {
				t.Fatalf("failed to create store: %v", err)
			}

			ws, err := store.GetWorkflowSpec(context.Background(), "onboarding")
			if tc.wantErr != nil {
				if err == nil {
					t.Fatalf("expected error %v, got nil", tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.checkWs(t, ws)

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPgStoreDeleteWorkflowSpecReferenced(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM workflow_specs").
		WithArgs("onboarding").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(testWorkflowID))
	mock.ExpectQuery("SELECT count").
		WithArgs(testWorkflowID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	store, err := NewPgStoreWithDB(mock)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.DeleteWorkflowSpec(context.Background(), "onboarding"); err != ErrReferenced {
		t.Errorf("expected ErrReferenced, got %v", err)
	}
}
