package sync

import (
	"fmt"
	"strings"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// orderTables returns the tables in declaration order with every referenced
// table hoisted ahead of the tables that reference it. Among ready tables the
// earliest declared one is always taken next, so the order is stable.
// References to tables outside the list and self references are ignored.
func orderTables(tables []schema.TableSpec) ([]*schema.TableSpec, error) {
	index := make(map[string]int, len(tables))
	for i := range tables {
		index[tables[i].Name] = i
	}

	inDegree := make([]int, len(tables))
	dependents := make([][]int, len(tables))
	for i := range tables {
		for _, ref := range tables[i].References() {
			j, ok := index[ref]
			if !ok {
				continue
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(tables))
	ordered := make([]*schema.TableSpec, 0, len(tables))
	for len(ordered) < len(tables) {
		next := -1
		for i := range tables {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var cycle []string
			for i := range tables {
				if !done[i] {
					cycle = append(cycle, tables[i].Name)
				}
			}
			return nil, &schema.InvariantError{
				Table:  cycle[0],
				Reason: fmt.Sprintf("circular foreign key dependency among [%s]", strings.Join(cycle, ", ")),
			}
		}
		done[next] = true
		ordered = append(ordered, &tables[next])
		for _, d := range dependents[next] {
			inDegree[d]--
		}
	}
	return ordered, nil
}
