package driver

var IndexQueries = []string{
	"CREATE INDEX ON :Equipment(id);",
	"CREATE INDEX ON :Equipment(key);",
	"CREATE INDEX ON :Equipment(brand_key);",
	"CREATE INDEX ON :Equipment(category);",
	"CREATE INDEX ON :Spec(key);",
	"CREATE INDEX ON :Brand(key);",
	"CREATE INDEX ON :Source(ref);",
	"CREATE INDEX ON :Insight(key);",
	"CREATE INDEX ON :ProductFamily(key);",
	"CREATE CONSTRAINT ON (e:Equipment) ASSERT e.id IS UNIQUE;",
	"CREATE CONSTRAINT ON (s:Source) ASSERT s.ref IS UNIQUE;",
}

// equipmentReturn projects an Equipment node bound to e with its specs.
const equipmentReturn = `
		OPTIONAL MATCH (e)-[:HAS_SPEC]->(s:Spec)
		RETURN e.id AS id, e.name AS name, e.brand AS brand, e.category AS category,
			e.name_key AS name_key, e.brand_key AS brand_key,
			e.materials AS materials, e.features AS features, e.use_cases AS use_cases,
			e.completeness AS completeness, e.absorbed_into AS absorbed_into,
			e.created_at AS created_at, e.updated_at AS updated_at,
			collect({field: s.field, num: s.num, text: s.text, confidence: s.confidence,
				status: s.status, updated_at: s.updated_at, provenance: s.provenance}) AS specs
	`

const (
	UpsertEquipmentQuery = `
		MERGE (e:Equipment {id: $id})
		ON CREATE SET e.created_at = $created_at
		SET e.key = $key,
			e.name = $name,
			e.brand = $brand,
			e.name_key = $name_key,
			e.brand_key = $brand_key,
			e.category = $category,
			e.materials = $materials,
			e.features = $features,
			e.use_cases = $use_cases,
			e.completeness = $completeness,
			e.absorbed_into = $absorbed_into,
			e.updated_at = $updated_at
		WITH e
		UNWIND $specs AS spec
		MERGE (s:Spec {key: spec.key})
		SET s.entity_id = e.id,
			s.field = spec.field,
			s.num = spec.num,
			s.text = spec.text,
			s.confidence = spec.confidence,
			s.status = spec.status,
			s.updated_at = spec.updated_at,
			s.provenance = spec.provenance
		MERGE (e)-[:HAS_SPEC]->(s)
	`

	MergeBrandQuery = `
		MERGE (b:Brand {key: $key})
		ON CREATE SET b.name = $name
		SET b.country = coalesce($country, b.country),
			b.website = coalesce($website, b.website)
		WITH b
		MATCH (e:Equipment {id: $entity_id})
		MERGE (e)-[:MANUFACTURED_BY]->(b)
	`

	MergeSourceMentionQuery = `
		MERGE (s:Source {ref: $ref})
		ON CREATE SET s.kind = $kind, s.title = $title
		WITH s
		MATCH (e:Equipment {id: $entity_id})
		MERGE (s)-[:MENTIONS]->(e)
	`

	MergeInsightQuery = `
		MERGE (i:Insight {key: $key})
		ON CREATE SET i.summary = $summary,
			i.content = $content,
			i.category = $category,
			i.scenario = $scenario,
			i.sentiment = $sentiment,
			i.source_ref = $source_ref
		WITH i
		MATCH (e:Equipment {id: $entity_id})
		MERGE (e)-[r:HAS_EXPERIENCE]->(i)
		SET r.sentiment = $sentiment, r.scenario = $scenario
		WITH i
		MATCH (s:Source {ref: $source_ref})
		MERGE (s)-[:MENTIONS]->(i)
	`

	MergeFamilyQuery = `
		MERGE (f:ProductFamily {key: $key})
		ON CREATE SET f.brand = $brand, f.base = $base, f.name = $name
		WITH f
		MATCH (e:Equipment {id: $entity_id})
		MERGE (e)-[r:VARIANT_OF]->(f)
		SET r.confidence = $confidence, r.variant = $variant, r.pattern = $pattern
		WITH f
		MATCH (b:Brand {key: $brand})
		MERGE (f)-[:MANUFACTURED_BY]->(b)
	`

	FinalizeSourceQuery = `
		MERGE (s:Source {ref: $ref})
		ON CREATE SET s.kind = $kind, s.title = $title
		SET s.processed_at = $processed_at,
			s.candidates = $candidates,
			s.created = $created,
			s.merged = $merged,
			s.flagged = $flagged,
			s.failed = $failed,
			s.invalid = $invalid,
			s.insights = $insights
	`

	MoveMentionsQuery = `
		MATCH (s:Source)-[r:MENTIONS]->(d:Equipment {id: $duplicate_id})
		MATCH (c:Equipment {id: $canonical_id})
		MERGE (s)-[:MENTIONS]->(c)
		DELETE r
	`

	MoveExperiencesQuery = `
		MATCH (d:Equipment {id: $duplicate_id})-[r:HAS_EXPERIENCE]->(i:Insight)
		MATCH (c:Equipment {id: $canonical_id})
		MERGE (c)-[n:HAS_EXPERIENCE]->(i)
		SET n.sentiment = r.sentiment, n.scenario = r.scenario
		DELETE r
	`

	MoveVariantsQuery = `
		MATCH (d:Equipment {id: $duplicate_id})-[r:VARIANT_OF]->(f:ProductFamily)
		MATCH (c:Equipment {id: $canonical_id})
		MERGE (c)-[n:VARIANT_OF]->(f)
		ON CREATE SET n.confidence = r.confidence, n.variant = r.variant, n.pattern = r.pattern
		DELETE r
	`

	MarkAbsorbedQuery = `
		MATCH (d:Equipment {id: $duplicate_id})
		SET d.absorbed_into = $canonical_id, d.updated_at = $updated_at
	`

	GetEquipmentQuery = `
		MATCH (e:Equipment {id: $id})` + equipmentReturn

	GetEquipmentByKeyQuery = `
		MATCH (e:Equipment {key: $key})` + equipmentReturn

	MatchPoolQuery = `
		MATCH (e:Equipment)
		WHERE coalesce(e.absorbed_into, "") = ""
			AND (e.brand_key = $brand_key OR e.category = $category)
		WITH e ORDER BY e.brand_key = $brand_key DESC, e.completeness DESC, e.id LIMIT $limit` + equipmentReturn

	EquipmentByBrandQuery = `
		MATCH (e:Equipment {brand_key: $brand_key})
		WHERE coalesce(e.absorbed_into, "") = ""` + equipmentReturn

	AllEquipmentQuery = `
		MATCH (e:Equipment)
		WHERE coalesce(e.absorbed_into, "") = ""` + equipmentReturn

	FamilyExistsQuery = `
		MATCH (f:ProductFamily {key: $key})
		RETURN count(f) AS n
	`

	GetSourceQuery = `
		MATCH (s:Source {ref: $ref})
		RETURN s.ref AS ref, s.kind AS kind, s.title AS title, s.processed_at AS processed_at,
			s.candidates AS candidates, s.created AS created, s.merged AS merged,
			s.flagged AS flagged, s.failed AS failed, s.invalid AS invalid, s.insights AS insights
	`

	// The orphan queries each return label, key and name of nodes that no live
	// equipment points at.
	OrphanBrandsQuery = `
		MATCH (b:Brand)
		OPTIONAL MATCH (e:Equipment)-[:MANUFACTURED_BY]->(b)
		WHERE coalesce(e.absorbed_into, "") = ""
		WITH b, count(e) AS n
		WHERE n = 0
		RETURN "Brand" AS label, b.key AS key, b.name AS name
		ORDER BY key
	`

	OrphanInsightsQuery = `
		MATCH (i:Insight)
		OPTIONAL MATCH (e:Equipment)-[:HAS_EXPERIENCE]->(i)
		WHERE coalesce(e.absorbed_into, "") = ""
		WITH i, count(e) AS n
		WHERE n = 0
		RETURN "Insight" AS label, i.key AS key, i.summary AS name
		ORDER BY key
	`

	OrphanFamiliesQuery = `
		MATCH (f:ProductFamily)
		OPTIONAL MATCH (e:Equipment)-[:VARIANT_OF]->(f)
		WHERE coalesce(e.absorbed_into, "") = ""
		WITH f, count(e) AS n
		WHERE n = 0
		RETURN "ProductFamily" AS label, f.key AS key, f.name AS name
		ORDER BY key
	`

	EquipmentEdgesQuery = `
		MATCH (e:Equipment {id: $id})-[r]-(n)
		WHERE type(r) <> "HAS_SPEC"
		RETURN type(r) AS type, startNode(r) = e AS outgoing,
			coalesce(n.id, n.key, n.ref) AS other, properties(r) AS properties
	`
)

// OrphanQueries run in label order so their rows concatenate sorted.
var OrphanQueries = []string{OrphanBrandsQuery, OrphanInsightsQuery, OrphanFamiliesQuery}
