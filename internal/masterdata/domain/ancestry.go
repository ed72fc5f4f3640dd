package masterdata

// Ancestry is a point-in-time snapshot of the path from a parameter up to its shop.
// Any level may be nil when a link in the tree is broken.
type Ancestry struct {
	Parameter *Parameter
	Actuator  *Actuator
	Aggregate *Aggregate
	Line      *Line
	Shop      *Shop
}

// Placeholder is rendered in place of a missing ancestry field.
const Placeholder = "N/A"

// ShopName returns the shop name or Placeholder.
func (a Ancestry) ShopName() string {
	if a.Shop == nil || a.Shop.Name == "" {
		return Placeholder
	}
	return a.Shop.Name
}

// LinePosition returns the line type or Placeholder.
func (a Ancestry) LinePosition() string {
	if a.Line == nil || a.Line.Type == "" {
		return Placeholder
	}
	return string(a.Line.Type)
}

// AggregateType returns the aggregate type name or Placeholder.
func (a Ancestry) AggregateType() string {
	if a.Aggregate == nil || a.Aggregate.TypeName == "" {
		return Placeholder
	}
	return a.Aggregate.TypeName
}

// ActuatorType returns the actuator type name or Placeholder.
func (a Ancestry) ActuatorType() string {
	if a.Actuator == nil || a.Actuator.TypeName == "" {
		return Placeholder
	}
	return a.Actuator.TypeName
}

// ParameterType returns the parameter type name or Placeholder.
func (a Ancestry) ParameterType() string {
	if a.Parameter == nil || a.Parameter.TypeName == "" {
		return Placeholder
	}
	return a.Parameter.TypeName
}

// Unit returns the parameter unit, empty when unknown.
func (a Ancestry) Unit() string {
	if a.Parameter == nil {
		return ""
	}
	return a.Parameter.Unit
}
