// Package links builds the _links maps attached to REST responses and realtime events
package links

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// Link is a single hypermedia control
type Link struct {
	Href   string `json:"href"`
	Method string `json:"method"`
}

// Links is a named set of hypermedia controls
type Links map[string]Link

func get(format string, args ...any) Link {
	return Link{Href: path(format, args...), Method: http.MethodGet}
}

func post(format string, args ...any) Link {
	return Link{Href: path(format, args...), Method: http.MethodPost}
}

func path(format string, args ...any) string {
	escaped := make([]any, len(args))
	for i, arg := range args {
		escaped[i] = url.PathEscape(fmt.Sprint(arg))
	}
	return fmt.Sprintf(format, escaped...)
}

// EntitySuggestions is the href of an entity's suggestion list
func EntitySuggestions(projectID, entityID string) string {
	return path("/projects/%s/entities/%s/suggestions", projectID, entityID)
}

// ForEntity returns the controls for an entity's suggestion set
func ForEntity(projectID, entityID string) Links {
	return Links{
		"self":          get("/projects/%s/entities/%s/suggestions", projectID, entityID),
		"compute":       post("/projects/%s/entities/%s/suggestions/compute", projectID, entityID),
		"summary":       get("/projects/%s/suggestions/summary", projectID),
		"relationships": get("/projects/%s/entities/%s/relationships", projectID, entityID),
	}
}

// ForMergedEntity returns the controls for an entity that was merged away
func ForMergedEntity(projectID, entityID, mergedInto string) Links {
	l := Links{
		"self": get("/projects/%s/entities/%s/suggestions", projectID, entityID),
	}
	if mergedInto != "" {
		l["merged_into"] = get("/projects/%s/entities/%s/suggestions", projectID, mergedInto)
	}
	return l
}

// ForSuggestion returns the controls for a suggestion. Actions are only offered while
// the suggestion is not terminal.
func ForSuggestion(projectID string, s *models.Suggestion) Links {
	l := Links{
		"self":   get("/projects/%s/entities/%s/suggestions/%s", projectID, s.EntityID, s.ID),
		"entity": get("/projects/%s/entities/%s/suggestions", projectID, s.EntityID),
	}
	if s.Status.IsTerminal() {
		return l
	}

	if s.Status == models.SuggestionStatusPending {
		l["view"] = post("/projects/%s/entities/%s/suggestions/%s/view", projectID, s.EntityID, s.ID)
	}
	l["dismiss"] = post("/projects/%s/linking/dismiss", projectID)
	if s.IsOrphanMatch() {
		l["link"] = post("/projects/%s/linking/orphan", projectID)
		return l
	}
	l["link"] = post("/projects/%s/linking/relationship", projectID)
	l["merge"] = post("/projects/%s/linking/merge", projectID)
	l["matched"] = get("/projects/%s/entities/%s/suggestions", projectID, s.MatchedID())
	return l
}

// ForSummary returns the controls for the project summary listing
func ForSummary(projectID string) Links {
	return Links{
		"self": get("/projects/%s/suggestions/summary", projectID),
	}
}

// ForRelationships returns the controls for an entity's relationship report
func ForRelationships(projectID, entityID string) Links {
	return Links{
		"self":    get("/projects/%s/entities/%s/relationships", projectID, entityID),
		"closure": get("/projects/%s/entities/%s/closure", projectID, entityID),
		"tags":    {Href: path("/projects/%s/entities/%s/tags", projectID, entityID), Method: http.MethodPut},
		"entity":  get("/projects/%s/entities/%s/suggestions", projectID, entityID),
	}
}
