package models

import (
	"fmt"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
	"gorm.io/gorm"
)

// Cursor is implemented by models that can be paginated on a single
// column (a unique sort key such as a name).
type Cursor interface {
	GetCursor() string
}

// CompositeCursor is for models sorted on a non-unique column; the row
// id breaks ties so pages never skip or repeat rows.
type CompositeCursor interface {
	Cursor
	Identifier
}

type Edge[N Cursor] struct {
	Node   *N
	Cursor string
}

// connectEdges turns an over-fetched node slice (limit+1 rows) into at
// most limit edges plus page info. encode maps a node to its cursor.
func connectEdges[T Cursor](nodes []*T, limit int, encode func(*T) string) ([]Edge[T], *PageInfo) {
	hasNextPage := len(nodes) > limit
	if hasNextPage {
		nodes = nodes[:limit]
	}

	edges := make([]Edge[T], 0, len(nodes))
	for _, node := range nodes {
		edges = append(edges, Edge[T]{Node: node, Cursor: encode(node)})
	}

	pageInfo := PageInfo{HasNextPage: utils.NewFalse()}
	if len(edges) > 0 {
		pageInfo = PageInfo{
			StartCursor: edges[0].Cursor,
			EndCursor:   edges[len(edges)-1].Cursor,
			HasNextPage: &hasNextPage,
		}
	}
	return edges, &pageInfo
}

// FetchPagePureCursor pages dbCtx on cursorColumn alone. cmpOperator is
// ">" for ascending pages and "<" for descending ones.
func FetchPagePureCursor[T Cursor](dbCtx *gorm.DB,
	limit int,
	after *string,
	cursorColumn string,
	cmpOperator string,
) ([]Edge[T], *PageInfo, error) {

	if cmpOperator == ">" {
		dbCtx.Order(cursorColumn)
	} else if cmpOperator == "<" {
		dbCtx.Order(cursorColumn + " DESC")
	}

	decodedCursor, err := DecodeCursor(after)
	if err != nil {
		return nil, nil, err
	}
	if decodedCursor != "" {
		dbCtx.Where(cursorColumn+" "+cmpOperator+" ?", decodedCursor)
	}

	// one extra row tells us whether another page exists
	nodes := make([]*T, 0, limit+1)
	if err = dbCtx.Limit(limit + 1).Find(&nodes).Error; err != nil {
		return nil, nil, err
	}

	edges, pageInfo := connectEdges(nodes, limit, func(node *T) string {
		return EncodeCursor((*node).GetCursor())
	})
	return edges, pageInfo, nil
}

// FetchPageCompositeCursor pages dbCtx on (cursorColumn, id).
func FetchPageCompositeCursor[T CompositeCursor](dbCtx *gorm.DB,
	limit int,
	after *string,
	cursorColumn string,
	cmpOperator string,
) ([]Edge[T], *PageInfo, error) {

	if cmpOperator == ">" {
		dbCtx.Order(cursorColumn + ", id")
	} else if cmpOperator == "<" {
		dbCtx.Order(cursorColumn + " DESC, id DESC")
	}

	decodedCursor, cursorId := DecodeCompositeCursor(after)
	if decodedCursor != "" {
		dbCtx.Where(
			// [1] = column, [2] = operator
			fmt.Sprintf("%[1]s %[2]s ? OR (%[1]s = ? AND id %[2]s ?)", cursorColumn, cmpOperator),
			decodedCursor, decodedCursor, cursorId)
	}

	nodes := make([]*T, 0, limit+1)
	if err := dbCtx.Limit(limit + 1).Find(&nodes).Error; err != nil {
		return nil, nil, err
	}

	edges, pageInfo := connectEdges(nodes, limit, func(node *T) string {
		return EncodeCompositeCursor((*node).GetCursor(), (*node).GetId())
	})
	return edges, pageInfo, nil
}
