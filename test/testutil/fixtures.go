package testutil

import (
	"github.com/spinneyio/lambdaconnect-go/internal/models"
	"github.com/spinneyio/lambdaconnect-go/internal/schema"
)

// ModelXML is the data model shared by most tests: a regex-constrained
// required email, optional bounded strings and numbers, a boolean, a
// date, and both relationship cardinalities.
const ModelXML = `<model>
  <entity name="Client" syncable="YES">
    <attribute name="name" attributeType="String" minValueString="1" maxValueString="100"/>
  </entity>
  <entity name="Order" syncable="YES">
    <attribute name="total" attributeType="Double" minValueString="0"/>
    <attribute name="placedAt" attributeType="Date" optional="YES"/>
    <relationship name="user" destinationEntity="User" optional="YES"/>
  </entity>
  <entity name="User" syncable="YES">
    <attribute name="email" attributeType="String" indexed="YES" regularExpressionString="^[^@ ]+@[^@ ]+\.[^@ ]+$"/>
    <attribute name="name" attributeType="String" optional="YES" minValueString="1" maxValueString="100"/>
    <attribute name="age" attributeType="Integer 32" optional="YES" minValueString="0" maxValueString="150"/>
    <attribute name="isAdmin" attributeType="Boolean" optional="YES"/>
    <relationship name="client" destinationEntity="Client" optional="YES"/>
    <relationship name="orders" destinationEntity="Order" toMany="YES" optional="YES"/>
  </entity>
</model>`

// MustSchema translates ModelXML, panicking on failure. Tests only.
func MustSchema() *models.Schema {
	s, err := schema.Translate([]byte(ModelXML))
	if err != nil {
		panic(err)
	}
	return s
}
