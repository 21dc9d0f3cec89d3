package sut

import (
	"strings"

	"mioforge/internal/catalog"
	"mioforge/internal/fitness"
	"mioforge/internal/gene"
	"mioforge/internal/individual"
)

const (
	GuessStatus200 fitness.TargetID = "guess:status200"
	GuessStatus400 fitness.TargetID = "guess:status400"
	GuessReached   fitness.TargetID = "guess:reached"

	ExclusiveLow  fitness.TargetID = "mode:low"
	ExclusiveHigh fitness.TargetID = "mode:high"
)

// NumberGuess has one endpoint whose success branch needs n == 42.
func NumberGuess() Service {
	cat := catalog.MustStatic(catalog.Template{
		Name: "guess",
		Params: []catalog.ParamTemplate{
			{Name: "n", Prototype: gene.Must(gene.NewInt("n", -1000, 1000))},
		},
	})
	exec := NewSimulated("numberguess",
		[]fitness.TargetID{GuessStatus200, GuessStatus400, GuessReached},
		map[string]Handler{
			"guess": func(_ *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
				n, err := intParam(a, "n")
				if err != nil {
					return fitness.Outcome{Status: 500, Message: err.Error()}, nil, nil
				}
				scores := map[fitness.TargetID]float64{
					GuessReached:   1,
					GuessStatus200: Distance(n, 42),
					GuessStatus400: Below(n, 0),
				}
				switch {
				case n == 42:
					return fitness.Outcome{Status: 200}, scores, nil
				case n < 0:
					return fitness.Outcome{Status: 400, Message: "negative guess"}, scores, nil
				default:
					return fitness.Outcome{Status: 418, Message: "wrong guess"}, scores, nil
				}
			},
		})
	return Service{
		Name:        "numberguess",
		Description: "single endpoint, success only when n == 42",
		Catalog:     cat,
		Executor:    exec,
	}
}

// Exclusive rewards mode == 0 and mode == 100 on separate targets, so no single
// call covers both.
func Exclusive() Service {
	cat := catalog.MustStatic(catalog.Template{
		Name: "setMode",
		Params: []catalog.ParamTemplate{
			{Name: "mode", Prototype: gene.Must(gene.NewInt("mode", 0, 100))},
		},
	})
	exec := NewSimulated("exclusive",
		[]fitness.TargetID{ExclusiveLow, ExclusiveHigh},
		map[string]Handler{
			"setMode": func(s *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
				// The mode is fixed by the first call after a reset.
				if s.Calls > 1 {
					return fitness.Outcome{Status: 409, Message: "mode already set"}, nil, nil
				}
				mode, err := intParam(a, "mode")
				if err != nil {
					return fitness.Outcome{Status: 500, Message: err.Error()}, nil, nil
				}
				return fitness.Outcome{Status: 200}, map[fitness.TargetID]float64{
					ExclusiveLow:  Distance(mode, 0),
					ExclusiveHigh: Distance(mode, 100),
				}, nil
			},
		})
	return Service{
		Name:        "exclusive",
		Description: "two targets needing mode 0 and mode 100",
		Catalog:     cat,
		Executor:    exec,
	}
}

// Petstore models resource dependencies: pets must be created before they can
// be read, sold or deleted.
func Petstore() Service {
	cat := catalog.MustStatic(
		catalog.Template{Name: "createPet", Creates: []string{"pet"}, Params: []catalog.ParamTemplate{
			{Name: "body", Prototype: gene.Must(gene.NewObject("body",
				gene.Must(gene.NewString("name", gene.StringOptions{MinLen: 1, MaxLen: 12})),
				gene.Must(gene.NewEnum("status", "available", "pending", "sold")),
				gene.Must(gene.NewOptional("tag", gene.Must(gene.NewString("tag", gene.StringOptions{Pattern: `[a-z]{3,6}`})))),
				gene.Must(gene.NewArray("photoUrls", gene.Must(gene.NewString("url", gene.StringOptions{Pattern: `https://img\.example\.com/[a-z0-9]{4,8}\.png`})), 0, 3)),
			))},
		}},
		catalog.Template{Name: "getPet", Requires: []string{"pet"}, Params: []catalog.ParamTemplate{
			{Name: "petId", Prototype: gene.Must(gene.NewInt("petId", 0, 50))},
		}},
		catalog.Template{Name: "findByStatus", Params: []catalog.ParamTemplate{
			{Name: "status", Prototype: gene.Must(gene.NewEnum("status", "available", "pending", "sold"))},
			{Name: "limit", Prototype: gene.Must(gene.NewInt("limit", 1, 100))},
		}},
		catalog.Template{Name: "deletePet", Requires: []string{"pet"}, Params: []catalog.ParamTemplate{
			{Name: "petId", Prototype: gene.Must(gene.NewInt("petId", 0, 50))},
			{Name: "apiKey", Prototype: gene.Must(gene.NewString("apiKey", gene.StringOptions{Format: "uuid"}))},
		}},
		catalog.Template{Name: "placeOrder", Requires: []string{"pet"}, Creates: []string{"order"}, Params: []catalog.ParamTemplate{
			{Name: "order", Prototype: gene.Must(gene.NewObject("order",
				gene.Must(gene.NewInt("quantity", 0, 20)),
				gene.Must(gene.NewString("shipDate", gene.StringOptions{Format: "date"})),
				gene.Must(gene.NewChoice("payment",
					gene.Must(gene.NewObject("card", gene.Must(gene.NewString("number", gene.StringOptions{Pattern: `4[0-9]{15}`})))),
					gene.Must(gene.NewObject("invoice", gene.Must(gene.NewString("email", gene.StringOptions{Format: "email"})))),
				)),
			))},
		}},
	)

	handlers := map[string]Handler{
		"createPet": func(s *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			body, _ := a.Param("body")
			fields, _ := body.Value().(map[string]any)
			scores := map[fitness.TargetID]float64{"createPet:201": 1}
			name, _ := fields["name"].(string)
			if strings.EqualFold(name, "doggie") {
				scores["createPet:doggie"] = 1
			} else {
				scores["createPet:doggie"] = Distance(int64(len(name)), 6) / 2
			}
			if status, _ := fields["status"].(string); status == "sold" {
				scores["createPet:sold"] = 1
			}
			if photos, _ := fields["photoUrls"].([]any); len(photos) == 3 {
				scores["createPet:gallery"] = 1
			} else {
				scores["createPet:gallery"] = Distance(int64(len(photos)), 3)
			}
			if fields["tag"] == nil {
				scores["createPet:untagged"] = 1
			}
			s.Create("pet")
			return fitness.Outcome{Status: 201}, scores, nil
		},
		"getPet": func(s *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			id, err := intParam(a, "petId")
			if err != nil {
				return fitness.Outcome{Status: 500}, nil, nil
			}
			if !s.Has("pet") {
				return fitness.Outcome{Status: 404}, map[fitness.TargetID]float64{"getPet:404": 1}, nil
			}
			ceiling := int64(s.Resources["pet"])
			if id >= 1 && id <= ceiling {
				return fitness.Outcome{Status: 200}, map[fitness.TargetID]float64{"getPet:200": 1}, nil
			}
			return fitness.Outcome{Status: 404}, map[fitness.TargetID]float64{
				"getPet:404": 1,
				"getPet:200": Distance(id, 1) / 2,
			}, nil
		},
		"findByStatus": func(_ *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			status, _ := stringParam(a, "status")
			limit, _ := intParam(a, "limit")
			scores := map[fitness.TargetID]float64{"findByStatus:" + fitness.TargetID(status): 1}
			scores["findByStatus:paged"] = Below(limit, 10)
			return fitness.Outcome{Status: 200}, scores, nil
		},
		"deletePet": func(s *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			if !s.Delete("pet") {
				return fitness.Outcome{Status: 404}, nil, nil
			}
			scores := map[fitness.TargetID]float64{"deletePet:204": 1}
			if !s.Has("pet") {
				scores["deletePet:last"] = 1
			}
			return fitness.Outcome{Status: 204}, scores, nil
		},
		"placeOrder": func(s *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			order, _ := a.Param("order")
			fields, _ := order.Value().(map[string]any)
			qty, _ := fields["quantity"].(int64)
			if qty == 0 {
				return fitness.Outcome{Status: 400, Message: "empty order"}, map[fitness.TargetID]float64{"placeOrder:400": 1}, nil
			}
			s.Create("order")
			scores := map[fitness.TargetID]float64{
				"placeOrder:200":  1,
				"placeOrder:bulk": Distance(min(qty, 10), 10),
			}
			if payment, _ := fields["payment"].(map[string]any); payment["number"] != nil {
				scores["placeOrder:card"] = 1
			} else {
				scores["placeOrder:invoice"] = 1
			}
			return fitness.Outcome{Status: 200}, scores, nil
		},
	}

	targets := []fitness.TargetID{
		"createPet:201", "createPet:doggie", "createPet:sold", "createPet:gallery", "createPet:untagged",
		"getPet:200", "getPet:404",
		"findByStatus:available", "findByStatus:pending", "findByStatus:sold", "findByStatus:paged",
		"deletePet:204", "deletePet:last",
		"placeOrder:200", "placeOrder:400", "placeOrder:bulk", "placeOrder:card", "placeOrder:invoice",
	}
	return Service{
		Name:        "petstore",
		Description: "pet and order resources with creation dependencies",
		Catalog:     cat,
		Executor:    NewSimulated("petstore", targets, handlers),
	}
}
