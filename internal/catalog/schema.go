package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
)

type TableClient interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

type TableSchema struct {
	Database   string   `json:"database"`
	Table      string   `json:"table"`
	Location   string   `json:"location,omitempty"`
	Columns    []Column `json:"columns"`
	Partitions []Column `json:"partitions,omitempty"`
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func LoadTableSchema(ctx context.Context, c TableClient, database, table string) (*TableSchema, error) {
	out, err := c.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return nil, fmt.Errorf("glue GetTable %s.%s: %w", database, table, err)
	}
	if out.Table == nil {
		return nil, fmt.Errorf("glue GetTable %s.%s: empty table", database, table)
	}

	ti := out.Table
	schema := &TableSchema{
		Database: database,
		Table:    aws.ToString(ti.Name),
	}
	if sd := ti.StorageDescriptor; sd != nil {
		schema.Location = aws.ToString(sd.Location)
		schema.Columns = toColumns(sd.Columns)
	}
	schema.Partitions = toColumns(ti.PartitionKeys)

	// stable output across runs
	sort.Slice(schema.Columns, func(i, j int) bool { return schema.Columns[i].Name < schema.Columns[j].Name })
	return schema, nil
}

func toColumns(in []gluetypes.Column) []Column {
	cols := make([]Column, 0, len(in))
	for _, c := range in {
		cols = append(cols, Column{
			Name: aws.ToString(c.Name),
			Type: strings.ToLower(strings.TrimSpace(aws.ToString(c.Type))),
		})
	}
	return cols
}
