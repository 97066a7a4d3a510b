package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"armory/internal/engine"
)

type suitPath struct {
	SuitID string `path:"suit_id"`
}

func registerSuits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-suit",
		Method:        http.MethodPost,
		Path:          "/suits",
		Summary:       "Create suit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSuitRequest `json:"body" required:"false"`
	}) (*struct {
		Body SuitResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSuit(ctx, engine.SuitCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Version: input.Body.Version,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuitResponse `json:"body"`
		}{Body: suitResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suits",
		Method:      http.MethodGet,
		Path:        "/suits",
		Summary:     "List suits",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SuitResponse `json:"body"`
	}, error) {
		items, err := e.ListSuits(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SuitResponse `json:"body"`
		}{Body: mapSuits(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-suit",
		Method:      http.MethodGet,
		Path:        "/suits/{suit_id}",
		Summary:     "Get suit with its armor, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *suitPath) (*struct {
		Body SuitResponse `json:"body"`
	}, error) {
		s, err := e.GetSuit(ctx, input.SuitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuitResponse `json:"body"`
		}{Body: suitResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-suit",
		Method:        http.MethodDelete,
		Path:          "/suits/{suit_id}",
		Summary:       "Delete suit",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *suitPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSuit(ctx, input.SuitID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suit-compatibility",
		Method:      http.MethodGet,
		Path:        "/suits/{suit_id}/compatibility",
		Summary:     "Check every armor record against the suit version",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *suitPath) (*struct {
		Body CompatibilityResponse `json:"body"`
	}, error) {
		report, err := e.CheckCompatibility(ctx, input.SuitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompatibilityResponse `json:"body"`
		}{Body: CompatibilityResponse(report)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "repair-suit",
		Method:      http.MethodPost,
		Path:        "/suits/{suit_id}/repair",
		Summary:     "Repair every repairable component",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *suitPath) (*struct {
		Body RepairResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		report, err := e.RepairSuit(ctx, input.SuitID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RepairResponse `json:"body"`
		}{Body: RepairResponse{
			SuitID:   report.SuitID,
			Repaired: report.Repaired,
			Suit:     suitResponse(report.Suit),
		}}, nil
	})
}

func registerArmor(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "push-armor",
		Method:        http.MethodPost,
		Path:          "/suits/{suit_id}/armor",
		Summary:       "Push armor onto the suit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		SuitID string           `path:"suit_id"`
		Body   PushArmorRequest `json:"body"`
	}) (*struct {
		Body SuitResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.PushArmor(ctx, input.SuitID, input.Body.armor(), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuitResponse `json:"body"`
		}{Body: suitResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pop-armor",
		Method:      http.MethodDelete,
		Path:        "/suits/{suit_id}/armor/head",
		Summary:     "Pop the newest armor",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *suitPath) (*struct {
		Body HeadResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, found, err := e.PopArmor(ctx, input.SuitID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HeadResponse `json:"body"`
		}{Body: headResponse(a, found)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "peek-armor",
		Method:      http.MethodGet,
		Path:        "/suits/{suit_id}/armor/head",
		Summary:     "Peek at the newest armor",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *suitPath) (*struct {
		Body HeadResponse `json:"body"`
	}, error) {
		a, found, err := e.PeekArmor(ctx, input.SuitID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HeadResponse `json:"body"`
		}{Body: headResponse(a, found)}, nil
	})
}
