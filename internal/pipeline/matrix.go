package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

const (
	matrixMappingMessageConstant        = "matrix must be a mapping of axis names to value lists"
	matrixAxisValuesTemplateConstant    = "matrix axis %q must be a scalar or a sequence of scalars"
	matrixAxisKeyMessageConstant        = "matrix axis name must be a scalar"
	pointCoordinateSeparatorConstant    = ", "
	pointCoordinateTemplateConstant     = "%s=%s"
	instanceDisplayNameTemplateConstant = "%s (%s)"
)

// MatrixAxis is one named dimension with its ordered values.
type MatrixAxis struct {
	Name   string
	Values []string
}

// Matrix is an ordered set of axes. Axis order follows declaration order.
type Matrix struct {
	Axes []MatrixAxis
}

// UnmarshalYAML decodes a mapping while preserving axis order.
func (matrix *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New(matrixMappingMessageConstant)
	}
	axes := make([]MatrixAxis, 0, len(node.Content)/2)
	for contentIndex := 0; contentIndex+1 < len(node.Content); contentIndex += 2 {
		keyNode := node.Content[contentIndex]
		valueNode := node.Content[contentIndex+1]
		if keyNode.Kind != yaml.ScalarNode {
			return errors.New(matrixAxisKeyMessageConstant)
		}
		axis := MatrixAxis{Name: strings.TrimSpace(keyNode.Value)}
		switch valueNode.Kind {
		case yaml.ScalarNode:
			axis.Values = []string{strings.TrimSpace(valueNode.Value)}
		case yaml.SequenceNode:
			axis.Values = make([]string, 0, len(valueNode.Content))
			for _, itemNode := range valueNode.Content {
				if itemNode.Kind != yaml.ScalarNode {
					return fmt.Errorf(matrixAxisValuesTemplateConstant, axis.Name)
				}
				axis.Values = append(axis.Values, strings.TrimSpace(itemNode.Value))
			}
		default:
			return fmt.Errorf(matrixAxisValuesTemplateConstant, axis.Name)
		}
		axes = append(axes, axis)
	}
	matrix.Axes = axes
	return nil
}

// MarshalYAML encodes the matrix as an ordered mapping.
func (matrix Matrix) MarshalYAML() (any, error) {
	mappingNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, axis := range matrix.Axes {
		valuesNode := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, value := range axis.Values {
			valuesNode.Content = append(valuesNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: value, Style: yaml.DoubleQuotedStyle})
		}
		mappingNode.Content = append(mappingNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: axis.Name}, valuesNode)
	}
	return mappingNode, nil
}

// MatrixCoordinate is one axis value within a matrix point.
type MatrixCoordinate struct {
	Axis  string `json:"axis"`
	Value string `json:"value"`
}

// MatrixPoint is one element of the Cartesian product, in axis order.
type MatrixPoint []MatrixCoordinate

// Value returns the value of the named axis.
func (point MatrixPoint) Value(axis string) (string, bool) {
	for _, coordinate := range point {
		if coordinate.Axis == axis {
			return coordinate.Value, true
		}
	}
	return "", false
}

// Map returns the point as an axis-to-value mapping.
func (point MatrixPoint) Map() map[string]string {
	values := make(map[string]string, len(point))
	for _, coordinate := range point {
		values[coordinate.Axis] = coordinate.Value
	}
	return values
}

// String renders the point as "axis=value" pairs.
func (point MatrixPoint) String() string {
	parts := make([]string, 0, len(point))
	for _, coordinate := range point {
		parts = append(parts, fmt.Sprintf(pointCoordinateTemplateConstant, coordinate.Axis, coordinate.Value))
	}
	return strings.Join(parts, pointCoordinateSeparatorConstant)
}

// JobInstance is one concrete job produced from a template and a matrix point.
type JobInstance struct {
	ID      string      `json:"id"`
	JobName string      `json:"job"`
	Index   int         `json:"index"`
	Point   MatrixPoint `json:"matrix,omitempty"`
	Tasks   []TaskSpec  `json:"-"`
	Release bool        `json:"release,omitempty"`
}

// DisplayName renders the job name with its matrix point.
func (instance JobInstance) DisplayName() string {
	if len(instance.Point) == 0 {
		return instance.JobName
	}
	return fmt.Sprintf(instanceDisplayNameTemplateConstant, instance.JobName, instance.Point.String())
}

// Expand produces one instance per matrix point. The first axis varies slowest
// and an empty matrix yields a single instance with an empty point. The result
// is identical for identical templates.
func (template JobTemplate) Expand() []JobInstance {
	total := 1
	for _, axis := range template.Matrix.Axes {
		total *= len(axis.Values)
	}

	instances := make([]JobInstance, 0, total)
	usedIdentifiers := make(map[string]struct{}, total)
	for instanceIndex := 0; instanceIndex < total; instanceIndex++ {
		point := make(MatrixPoint, len(template.Matrix.Axes))
		remainder := instanceIndex
		for axisIndex := len(template.Matrix.Axes) - 1; axisIndex >= 0; axisIndex-- {
			axis := template.Matrix.Axes[axisIndex]
			point[axisIndex] = MatrixCoordinate{Axis: axis.Name, Value: axis.Values[remainder%len(axis.Values)]}
			remainder /= len(axis.Values)
		}

		identifier := instanceIdentifier(template.Name, point)
		if _, taken := usedIdentifiers[identifier]; taken {
			identifier = identifier + "-" + strconv.Itoa(instanceIndex)
		}
		usedIdentifiers[identifier] = struct{}{}

		tasks := make([]TaskSpec, len(template.Tasks))
		copy(tasks, template.Tasks)
		instances = append(instances, JobInstance{
			ID:      identifier,
			JobName: template.Name,
			Index:   instanceIndex,
			Point:   point,
			Tasks:   tasks,
			Release: template.Release,
		})
	}
	return instances
}

func instanceIdentifier(jobName string, point MatrixPoint) string {
	parts := make([]string, 0, len(point)+1)
	parts = append(parts, jobName)
	for _, coordinate := range point {
		parts = append(parts, coordinate.Value)
	}
	return slug.Make(strings.Join(parts, " "))
}
